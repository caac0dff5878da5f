package stage

import (
	"context"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/model"
)

const emotionInstructions = `You analyze the emotional state of someone messaging a legal-help companion.
Respond with a single JSON object:
{"sentiment": "<positive|neutral|negative|anxious|distressed>",
 "enhanced_sentiment": "<same value set, refined>",
 "engagement_level": <0-10>}
engagement_level reflects how invested the user is in the conversation.`

// Emotion tags the turn's sentiment and engagement. Part of the phase-1
// analysis fan-out; writes only fields disjoint from its siblings.
type Emotion struct {
	llm model.Model
}

// NewEmotion creates the emotion stage.
func NewEmotion(llm model.Model) *Emotion { return &Emotion{llm: llm} }

// Name implements core.Stage.
func (e *Emotion) Name() string { return "emotion" }

// Run implements core.Stage.
func (e *Emotion) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	text, err := complete(ctx, e.llm, e.Name(), emotionInstructions, view.RedactedText)
	if err != nil {
		return core.PartialUpdate{}, err
	}

	var payload struct {
		Sentiment         string  `json:"sentiment"`
		EnhancedSentiment string  `json:"enhanced_sentiment"`
		EngagementLevel   float64 `json:"engagement_level"`
	}
	if err := decode(e.Name(), text, &payload); err != nil {
		return core.PartialUpdate{}, err
	}

	sentiment := normalizeSentiment(payload.Sentiment)
	enhanced := normalizeSentiment(payload.EnhancedSentiment)
	if payload.EnhancedSentiment == "" {
		enhanced = sentiment
	}

	return core.PartialUpdate{
		Sentiment:         sentimentPtr(sentiment),
		EnhancedSentiment: sentimentPtr(enhanced),
		EngagementLevel:   floatPtr(core.ClampScore(payload.EngagementLevel)),
	}, nil
}

// Default implements core.Default: neutral tagging with mid engagement.
func (e *Emotion) Default(core.TurnView) core.PartialUpdate {
	return core.PartialUpdate{
		Sentiment:         sentimentPtr(core.SentimentNeutral),
		EnhancedSentiment: sentimentPtr(core.SentimentNeutral),
		EngagementLevel:   floatPtr(5),
	}
}

func normalizeSentiment(s string) core.Sentiment {
	switch core.Sentiment(s) {
	case core.SentimentPositive, core.SentimentNegative, core.SentimentAnxious, core.SentimentDistressed:
		return core.Sentiment(s)
	default:
		return core.SentimentNeutral
	}
}
