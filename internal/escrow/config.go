package escrow

import (
	"math"
	"time"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultJoinTimeout    = time.Hour
	DefaultAbandonTimeout = 72 * time.Hour
	DefaultFeeReserve     = uint64(1000)
)

// Config holds the per-deployment constants of the escrow.
type Config struct {
	// Reporter is the trusted identity that declares winners and refreshes
	// the activity timestamp.
	Reporter model.Identity
	// Custody is the identity paired deposits must be addressed to.
	Custody model.Identity
	// CreatorOverride lets the record's creator act as reporter. The creator
	// is player1, so enabling it lets a player declare itself the winner. Only
	// for deployments where the creator is a trusted game operator.
	CreatorOverride bool
	JoinTimeout     time.Duration
	AbandonTimeout  time.Duration
	// FeeReserve is withheld from every payout to cover settlement overhead.
	FeeReserve uint64
}

func DefaultConfig() Config {
	return Config{
		CreatorOverride: false,
		JoinTimeout:     DefaultJoinTimeout,
		AbandonTimeout:  DefaultAbandonTimeout,
		FeeReserve:      DefaultFeeReserve,
	}
}

func SetViperDefaults() {
	viper.SetDefault("ESCROW_JOIN_TIMEOUT", int64(DefaultJoinTimeout/time.Second))
	viper.SetDefault("ESCROW_ABANDON_TIMEOUT", int64(DefaultAbandonTimeout/time.Second))
	viper.SetDefault("ESCROW_FEE_RESERVE", DefaultFeeReserve)
	// Off by default: with the override the creator, who is player1, can
	// declare its own win.
	viper.SetDefault("ESCROW_CREATOR_OVERRIDE", false)
}

// LoadConfig reads the escrow constants from viper. Timeouts are expressed in
// seconds, matching the environment's timestamp unit.
func LoadConfig() (Config, error) {
	cfg := Config{
		Reporter:        model.Identity(viper.GetString("ESCROW_REPORTER_ADDRESS")),
		Custody:         model.Identity(viper.GetString("ESCROW_CUSTODY_ADDRESS")),
		CreatorOverride: viper.GetBool("ESCROW_CREATOR_OVERRIDE"),
		JoinTimeout:     time.Duration(viper.GetInt64("ESCROW_JOIN_TIMEOUT")) * time.Second,
		AbandonTimeout:  time.Duration(viper.GetInt64("ESCROW_ABANDON_TIMEOUT")) * time.Second,
		FeeReserve:      viper.GetUint64("ESCROW_FEE_RESERVE"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Reporter.IsNone() {
		return errors.Wrap(ErrConfiguration, "reporter identity is required")
	}
	if c.Custody.IsNone() {
		return errors.Wrap(ErrConfiguration, "custody identity is required")
	}
	if c.JoinTimeout < time.Second {
		return errors.Wrapf(ErrConfiguration, "join timeout %s below one second", c.JoinTimeout)
	}
	if c.AbandonTimeout < time.Second {
		return errors.Wrapf(ErrConfiguration, "abandon timeout %s below one second", c.AbandonTimeout)
	}
	return nil
}

// maxTimestamp is the latest timestamp whose deadlines still fit in int64.
func (c Config) maxTimestamp() int64 {
	longest := c.joinTimeoutSeconds()
	if a := c.abandonTimeoutSeconds(); a > longest {
		longest = a
	}
	return math.MaxInt64 - longest
}

func (c Config) joinTimeoutSeconds() int64 {
	return int64(c.JoinTimeout / time.Second)
}

func (c Config) abandonTimeoutSeconds() int64 {
	return int64(c.AbandonTimeout / time.Second)
}
