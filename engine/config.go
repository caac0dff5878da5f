package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config carries every tunable threshold of the turn pipeline. The zero
// value is not usable; start from DefaultConfig.
type Config struct {
	// CrisisThreshold is the distress score at which a turn is placed on
	// safety hold regardless of the model's crisis verdict.
	CrisisThreshold float64 `yaml:"crisis_threshold"`

	// DistressFloor is a minimum distress score assumed for every turn.
	// Deployments serving known high-acuity populations raise it.
	DistressFloor float64 `yaml:"distress_floor"`

	// MatchDistressCeiling is the distress score above which lawyer
	// matching is skipped for the turn.
	MatchDistressCeiling float64 `yaml:"match_distress_ceiling"`

	// MatchLimit caps cards per turn.
	MatchLimit int `yaml:"match_limit"`

	// MatchTimeout bounds one matcher call.
	MatchTimeout Duration `yaml:"match_timeout"`

	// AllianceLowWatermark is the score at or below which an alliance
	// dimension counts as low for the falter rule.
	AllianceLowWatermark float64 `yaml:"alliance_low_watermark"`

	// AllianceLowTurns is the consecutive-low-turn streak that triggers
	// advice suppression.
	AllianceLowTurns int `yaml:"alliance_low_turns"`

	// BondRecovery is the bond score at which suppressed advice resumes.
	BondRecovery float64 `yaml:"bond_recovery"`

	// HandoffLimit is the per-conversation specialist hand-off ceiling.
	HandoffLimit int `yaml:"handoff_limit"`

	// StageTimeout bounds one attempt of one analysis stage.
	StageTimeout Duration `yaml:"stage_timeout"`

	// DraftTimeout bounds the streamed reply generation.
	DraftTimeout Duration `yaml:"draft_timeout"`

	// StageAttempts is the total attempts per retryable stage failure.
	StageAttempts int `yaml:"stage_attempts"`

	// RetryBackoff is the base delay between stage attempts; the second
	// retry waits twice this, and so on.
	RetryBackoff Duration `yaml:"retry_backoff"`

	// FrameBuffer is the frame channel capacity per turn.
	FrameBuffer int `yaml:"frame_buffer"`

	// MaxConcurrentTurns caps turns in flight across all conversations;
	// 0 means unlimited.
	MaxConcurrentTurns int `yaml:"max_concurrent_turns"`

	// MaxModelCallsPerTurn bounds model invocations per turn; 0 means
	// unlimited. Stages past the budget fall back to their defaults.
	MaxModelCallsPerTurn int `yaml:"max_model_calls_per_turn"`

	// SuggestionCount is the number of prompts per suggestions frame.
	SuggestionCount int `yaml:"suggestion_count"`

	// HistoryTurns is how many recent turn records stages see.
	HistoryTurns int `yaml:"history_turns"`

	// EngagementSmoothing is the exponential smoothing factor applied to
	// the profile's engagement trend by the post-turn job.
	EngagementSmoothing float64 `yaml:"engagement_smoothing"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CrisisThreshold:      8,
		DistressFloor:        0,
		MatchDistressCeiling: 6,
		MatchLimit:           3,
		MatchTimeout:         Duration(3 * time.Second),
		AllianceLowWatermark: 4,
		AllianceLowTurns:     2,
		BondRecovery:         6,
		HandoffLimit:         100,
		StageTimeout:         Duration(10 * time.Second),
		DraftTimeout:         Duration(60 * time.Second),
		StageAttempts:        2,
		RetryBackoff:         Duration(200 * time.Millisecond),
		FrameBuffer:          64,
		MaxConcurrentTurns:   0,
		MaxModelCallsPerTurn: 0,
		SuggestionCount:      3,
		HistoryTurns:         8,
		EngagementSmoothing:  0.3,
	}
}

// LoadConfig reads a YAML file over the defaults; absent keys keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
