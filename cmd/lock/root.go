package lock

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/lockmgr"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	lockStore store.IStore
	lockMgr   lockmgr.ILockManager
	leaseTTL  time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations on the database in --data-dir",
		PersistentPreRunE:  setupLockMgr,
		PersistentPostRunE: closeLockMgr,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// renewCmd represents the renew command
	renewCmd = &cobra.Command{
		Use:   "renew [key] [ownerID]",
		Short: "Extend the lease of a held lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runRenew,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(renewCmd)
	LockCommands.AddCommand(releaseCmd)

	acquireCmd.Flags().DurationVar(&leaseTTL, "ttl", 30*time.Second, util.WrapString("Lease of the lock (0 for no expiry)"))
	renewCmd.Flags().DurationVar(&leaseTTL, "ttl", 30*time.Second, util.WrapString("New lease of the lock, counted from now"))
}

// setupLockMgr opens the embedded database and the lock manager on top of it
func setupLockMgr(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	opts, err := util.GetEngineOptions()
	if err != nil {
		return err
	}
	if lockStore, _, err = util.OpenStore(opts); err != nil {
		return err
	}
	lockMgr = lockmgr.NewLockManager(lockStore)
	return nil
}

func closeLockMgr(_ *cobra.Command, _ []string) error {
	if lockStore == nil {
		return nil
	}
	return lockStore.Close()
}

// parseOwner converts the hex owner ID printed by acquire back to bytes
func parseOwner(ownerIDHex string) ([]byte, error) {
	ownerID, err := hex.DecodeString(ownerIDHex)
	if err != nil {
		return nil, fmt.Errorf("invalid owner ID format: %v", err)
	}
	return ownerID, nil
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	acquired, ownerID, err := lockMgr.AcquireLock(args[0], leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}
	fmt.Printf("acquired=true, ownerID=%s\n", hex.EncodeToString(ownerID))
	return nil
}

// runRenew handles the renew lock command
func runRenew(_ *cobra.Command, args []string) error {
	ownerID, err := parseOwner(args[1])
	if err != nil {
		return err
	}
	renewed, err := lockMgr.RenewLock(args[0], ownerID, leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	fmt.Printf("renewed=%t\n", renewed)
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	ownerID, err := parseOwner(args[1])
	if err != nil {
		return err
	}
	released, err := lockMgr.ReleaseLock(args[0], ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	fmt.Printf("released=%t\n", released)
	return nil
}
