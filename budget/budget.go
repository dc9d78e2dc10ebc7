// Package budget implements guest-side mixing budget accounting: a
// session's fee is charged to its pocket exactly once, and exhausting
// the budget disables further mixing for that pocket until the user
// re-unlocks it.
package budget

import (
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/wallet"
)

var logger = log.NewModuleLogger("budget")

// Apply charges fee to pocket.MixingOptions.Spent and, if that meets
// or exceeds the pocket's budget, clears its in-memory HD key material
// and disables mixing. It persists the identity store on any change.
// Callers must gate this with Session.MarkBudgetApplied so it only
// runs once per session.
func Apply(store identity.Store, pocket *wallet.Pocket, fee int64) error {
	pocket.MixingOptions.Spent += fee
	exhausted := pocket.MixingOptions.Spent >= pocket.MixingOptions.Budget
	if exhausted {
		pocket.ClearHDKeys()
		logger.Info("pocket budget exhausted, mixing disabled", "pocket", pocket.Index)
	}
	if err := store.Save(); err != nil {
		return err
	}
	logger.Info("budget charged", "pocket", pocket.Index, "fee", fee, "spent", pocket.MixingOptions.Spent, "budget", pocket.MixingOptions.Budget)
	return nil
}
