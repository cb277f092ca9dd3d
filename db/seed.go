package db

import (
	"context"
	"fmt"

	"github.com/courier-cdc/courier/cfg"
	"github.com/courier-cdc/courier/common"
	"github.com/rs/zerolog/log"
)

const defaultMaxBatchSize = 1000

// Seed upserts the configured channels, nodes, routers, triggers and
// redirects in one transaction. Rows not named in the configuration are
// left untouched.
func (s *Store) Seed(ctx context.Context, c *cfg.Configuration) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range c.Channels {
		if err := s.SaveChannel(ctx, tx, ChannelFromConfig(ch)); err != nil {
			return err
		}
	}

	for _, n := range c.Nodes {
		err := s.SaveNode(ctx, tx, common.Node{
			NodeID:      n.ID,
			ExternalID:  n.ExternalID,
			NodeGroupID: n.NodeGroupID,
			SyncEnabled: cfg.BoolOr(n.SyncEnabled, true),
		})
		if err != nil {
			return err
		}
	}

	for _, r := range c.Routers {
		err := s.SaveRouter(ctx, tx, common.Router{
			RouterID:          r.ID,
			SourceNodeGroupID: r.SourceNodeGroupID,
			TargetNodeGroupID: r.TargetNodeGroupID,
			RouterType:        r.Type,
			RouterExpression:  r.Expression,
			SyncOnInsert:      cfg.BoolOr(r.SyncOnInsert, true),
			SyncOnUpdate:      cfg.BoolOr(r.SyncOnUpdate, true),
			SyncOnDelete:      cfg.BoolOr(r.SyncOnDelete, true),
		})
		if err != nil {
			return err
		}
	}

	for _, t := range c.Triggers {
		err := s.SaveTrigger(ctx, tx, common.Trigger{
			TriggerID:       t.ID,
			SourceTableName: t.SourceTable,
			ChannelID:       t.ChannelID,
		})
		if err != nil {
			return err
		}
	}

	for _, link := range c.TriggerRouters {
		if err := s.SaveTriggerRouter(ctx, tx, link.TriggerID, link.RouterID, cfg.BoolOr(link.Enabled, true)); err != nil {
			return err
		}
	}

	for _, r := range c.Redirects {
		if err := s.SaveRedirect(ctx, tx, common.Redirect{ExternalID: r.ExternalID, RegistrationNodeID: r.RegistrationNodeID}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	log.Info().
		Int("channels", len(c.Channels)).
		Int("nodes", len(c.Nodes)).
		Int("routers", len(c.Routers)).
		Int("triggers", len(c.Triggers)).
		Msg("Seeded routing configuration")
	return nil
}

// ChannelFromConfig applies channel defaults to a configured channel
func ChannelFromConfig(ch cfg.ChannelConfiguration) common.Channel {
	maxBatch := ch.MaxBatchSize
	if maxBatch == 0 {
		maxBatch = defaultMaxBatchSize
	}
	algorithm := common.BatchAlgorithm(ch.BatchAlgorithm)
	if algorithm == "" {
		algorithm = common.BatchAlgorithmDefault
	}
	return common.Channel{
		ChannelID:          ch.ID,
		ProcessingOrder:    ch.ProcessingOrder,
		MaxBatchSize:       maxBatch,
		MaxBatchToSend:     ch.MaxBatchToSend,
		MaxBatchIntervalMS: ch.MaxBatchIntervalMS,
		BatchAlgorithm:     algorithm,
		Enabled:            cfg.BoolOr(ch.Enabled, true),
		Reload:             ch.Reload,
		UseOldDataToRoute:  cfg.BoolOr(ch.UseOldDataToRoute, true),
		UseRowDataToRoute:  cfg.BoolOr(ch.UseRowDataToRoute, true),
		UsePKDataToRoute:   cfg.BoolOr(ch.UsePKDataToRoute, true),
	}
}
