// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/id"
)

// Service owns the assembled appservice: the Matrix client, the core
// components and the inbound transport.
type Service struct {
	Config       *Config
	Registration *appservice.Registration
	BotID        id.UserID

	server *Server
	log    zerolog.Logger
}

// NewService loads the registration file and wires every component
// together. Configuration problems surface here, before anything
// listens.
func NewService(cfg *Config, log zerolog.Logger) (*Service, error) {
	reg, err := appservice.LoadRegistration(cfg.Appservice.Registration)
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	botID := id.NewUserID(reg.SenderLocalpart, cfg.Homeserver.Domain)

	client, err := mautrix.NewClient(cfg.Homeserver.Address, botID, reg.AppToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "matrix").Logger()
	client.SetAppServiceUserID = true

	ns := cfg.AliasNamespace()
	dir := NewCachedDirectory(NewMatrixDirectory(client), cfg.AliasCacheSize)
	replicator := NewReplicator(dir, ns, log)
	commands := NewCommandInterpreter(dir, ns, botID, log)
	dispatcher := NewDispatcher(dir, ns, replicator, commands, botID, cfg.AllowUser, log)
	provisioner := NewProvisioner(dir, ns, botID, log)

	return &Service{
		Config:       cfg,
		Registration: reg,
		BotID:        botID,
		server:       NewServer(dispatcher, provisioner, reg.ServerToken, log),
		log:          log,
	}, nil
}

// Run serves the appservice API until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().
		Str("bot_mxid", string(s.BotID)).
		Str("namespace_prefix", s.Config.Namespace.Prefix).
		Msg("Starting comment appservice")
	return s.server.ListenAndServe(ctx, s.Config.Appservice.Hostname, s.Config.Appservice.Port)
}
