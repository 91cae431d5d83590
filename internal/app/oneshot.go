package app

import (
	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/observability"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

// Oneshot is the part of the app an operator tool needs to deliver a file
// outside the daily loop. It does not poll for updates.
type Oneshot struct {
	Config     *config.Config
	Store      storage.Store
	Dispatcher *broadcast.Dispatcher
}

func NewOneshot(cfgPath string, log logx.Logger) (*Oneshot, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	ad, err := newAdapter(cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	disp, err := newDispatcher(cfg, ad, store, observability.Nop{}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Oneshot{Config: cfg, Store: store, Dispatcher: disp}, nil
}

func (o *Oneshot) Close() error { return o.Store.Close() }
