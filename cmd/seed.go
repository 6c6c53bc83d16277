package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/questionbank"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish a starter question bank",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		questions := starterQuestions()
		if err := a.bank.Publish(cmd.Context(), questions...); err != nil {
			return err
		}
		fmt.Printf("Published %d questions.\n", len(questions))
		return nil
	},
}

func starterQuestions() []*questionbank.Question {
	spoken := []struct {
		id, phase, topic, prompt string
	}{
		{"sp-p1-home", "part1", "home", "Let's talk about where you live. What do you like most about your neighbourhood?"},
		{"sp-p1-work", "part1", "work", "Do you work or are you a student? Tell me about a typical day."},
		{"sp-p1-food", "part1", "food", "What kinds of food are popular where you come from?"},
		{"sp-p1-travel", "part1", "travel", "How do you usually get around your city?"},
		{"sp-p2-person", "part2", "people", "Describe a person who has influenced you. Say who they are, how you met them, and why they matter to you."},
		{"sp-p2-place", "part2", "travel", "Describe a place you would like to visit. Say where it is, what you know about it, and why it appeals to you."},
		{"sp-p2-skill", "part2", "work", "Describe a skill you would like to learn. Say what it is, how you would learn it, and how it would help you."},
		{"sp-p3-community", "part3", "people", "How do communities change when people move away for work? Is that change mostly positive?"},
		{"sp-p3-tourism", "part3", "travel", "Does tourism help or harm the places tourists visit?"},
		{"sp-p3-automation", "part3", "work", "Which jobs do you think machines will take over next, and does that worry you?"},
	}

	written := []struct {
		id, topic, prompt string
	}{
		{"wr-remote", "work", "Some companies now let all employees work from home. Discuss the advantages and disadvantages of this arrangement."},
		{"wr-cars", "travel", "Some cities have banned private cars from their centres. To what extent do you agree with this policy?"},
		{"wr-diet", "food", "People increasingly eat food produced far from where they live. Is this a positive or negative development?"},
		{"wr-elders", "people", "In some cultures, elderly parents live with their adult children. In others they do not. Compare the two arrangements."},
	}

	var out []*questionbank.Question
	for _, q := range spoken {
		out = append(out, &questionbank.Question{
			QuestionID:     q.id,
			AssessmentType: assessment.TypeSpeaking,
			PhaseTag:       assessment.PhaseTag(q.phase),
			TopicTags:      []string{q.topic},
			PromptPayload:  promptPayload(q.prompt),
		})
	}
	for _, q := range written {
		out = append(out, &questionbank.Question{
			QuestionID:     q.id,
			AssessmentType: assessment.TypeAcademicWriting,
			PhaseTag:       assessment.PhaseDraft,
			TopicTags:      []string{q.topic},
			PromptPayload:  promptPayload(q.prompt),
		})
	}
	return out
}

func promptPayload(prompt string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"prompt": prompt})
	return data
}
