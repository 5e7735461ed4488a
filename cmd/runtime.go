package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/consentcompanion/policywatch/internal/headless"
	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/engine"
	"github.com/consentcompanion/policywatch/pkg/storage"
)

// runtime is an engine running on the sqlite areas and the headless host.
type runtime struct {
	db     *storage.DB
	lock   *utils.DBLock
	host   *headless.Host
	engine *engine.Engine
}

func engineConfig() engine.Config {
	return engine.Config{
		APIBase:       viper.GetString("api.base"),
		APITimeout:    viper.GetDuration("api.timeout"),
		APIRetries:    viper.GetInt("api.retries"),
		PollPeriod:    viper.GetDuration("poll.period"),
		AlarmName:     viper.GetString("poll.alarm"),
		Cooldown:      viper.GetDuration("throttle.cooldown"),
		DebounceDelay: viper.GetDuration("debounce.delay"),
		Log:           utils.Log,
	}
}

// openRuntime opens the database and builds the engine. With exclusive
// set, the database lock is held until Close.
func openRuntime(exclusive bool) (*runtime, error) {
	dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
	if err != nil {
		return nil, err
	}
	if !exclusive {
		return newRuntime(dbPath, nil)
	}
	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	return newRuntime(dbPath, lock)
}

// newRuntime builds a runtime on dbPath. A non-nil lock must already be
// held; it is released by Close.
func newRuntime(dbPath string, lock *utils.DBLock) (*runtime, error) {
	var err error
	rt := &runtime{lock: lock}
	rt.db, err = storage.Open(dbPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	utils.Log.Debugf("Using database %s", dbPath)

	rt.host = headless.New(utils.Log, nil)
	caps := rt.host.Capabilities(
		rt.db.Area(storage.AreaSession),
		rt.db.Area(storage.AreaSync),
		rt.db.Area(storage.AreaLocal),
	)
	rt.engine, err = engine.New(caps, engineConfig())
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close stops the engine and releases the database.
func (rt *runtime) Close() {
	if rt.engine != nil {
		rt.engine.Close()
	}
	if rt.host != nil {
		rt.host.Stop()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			utils.Log.Warnf("Could not close database: %v", err)
		}
	}
	if rt.lock != nil {
		if err := rt.lock.Unlock(); err != nil {
			utils.Log.Warnf("Could not release database lock: %v", err)
		}
	}
}

// clearSession drops the per-tab results of a previous browsing session.
func (rt *runtime) clearSession(ctx context.Context) {
	if err := rt.db.ClearArea(ctx, storage.AreaSession); err != nil {
		utils.Log.Warnf("Could not clear session storage: %v", err)
	}
}
