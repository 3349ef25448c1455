package nakama

import (
	"context"
	"database/sql"

	"gridrival/internal/config"

	"github.com/heroiclabs/nakama-common/runtime"
)

// matchRulesPath is where installs drop their tuning file. A missing or
// broken file falls back to defaults so the module always loads.
const matchRulesPath = "data/match_rules.json"

// InitModule wires RPCs, hooks, the match handler, and the timeout sweeper
// for the Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	rules, err := config.Load(matchRulesPath)
	if err != nil {
		logger.Warn("InitModule: Could not load match rules: %v", err)
		rules = config.Default()
	}

	if err := RegisterRPCs(initializer); err != nil {
		return err
	}

	if err := initializer.RegisterAfterAuthenticateDevice(AfterAuthenticateDevice); err != nil {
		return err
	}

	if err := initializer.RegisterMatch(MatchNameGridRival, NewMatch); err != nil {
		return err
	}

	if _, err := StartSweeper(nk, logger, rules); err != nil {
		return err
	}

	logger.Info("GridRival Go module loaded.")
	return nil
}
