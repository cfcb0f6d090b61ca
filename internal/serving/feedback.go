// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Rating is a thumbs rating on one assistant turn.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
)

// ErrInvalidRating indicates a rating string that is neither up nor down.
var ErrInvalidRating = errors.New("invalid rating")

// feedbackSourceID identifies this application in assessment records.
const feedbackSourceID = "e2e-chatbot-app"

// ParseRating accepts up/down, positive/negative and +/-.
func ParseRating(s string) (Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "positive", "+", "+1", "good":
		return RatingPositive, nil
	case "down", "negative", "-", "-1", "bad":
		return RatingNegative, nil
	default:
		return "", fmt.Errorf("%w: %q (use up or down)", ErrInvalidRating, s)
	}
}

type feedbackRecord struct {
	Source               string `json:"source"`
	RequestID            string `json:"request_id"`
	TextAssessments      string `json:"text_assessments"`
	RetrievalAssessments string `json:"retrieval_assessments"`
}

type textAssessment struct {
	Ratings struct {
		AnswerCorrect struct {
			Value Rating `json:"value"`
		} `json:"answer_correct"`
	} `json:"ratings"`
	FreeTextComment *string `json:"free_text_comment"`
}

// feedbackPayload builds the dataframe_records body. The nested fields are
// JSON-encoded strings, which is what the feedback model expects.
func feedbackPayload(requestID string, rating Rating) ([]byte, error) {
	source, err := json.Marshal(map[string]string{"id": feedbackSourceID, "type": "human"})
	if err != nil {
		return nil, err
	}
	var ta textAssessment
	ta.Ratings.AnswerCorrect.Value = rating
	assessments, err := json.Marshal([]textAssessment{ta})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string][]feedbackRecord{
		"dataframe_records": {{
			Source:               string(source),
			RequestID:            requestID,
			TextAssessments:      string(assessments),
			RetrievalAssessments: "[]",
		}},
	})
}

// SubmitFeedback records a rating against the request that produced a turn.
func (c *Client) SubmitFeedback(ctx context.Context, requestID string, rating Rating) error {
	if requestID == "" {
		return errors.New("feedback requires a request id")
	}
	if rating != RatingPositive && rating != RatingNegative {
		return fmt.Errorf("%w: %q", ErrInvalidRating, rating)
	}

	body, err := feedbackPayload(requestID, rating)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	if _, err := c.doWithRetry(ctx, http.MethodPost, c.feedbackURL(), body); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}
