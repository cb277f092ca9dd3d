package routing

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/courier-cdc/courier/router"
	"github.com/rs/zerolog/log"
)

// route is one enabled router of a trigger with its candidate nodes,
// computed once per pass
type route struct {
	router     common.Router
	candidates []common.Node
}

// RoutingContext owns one pass over one channel: the pass transaction and
// the reader, gap tracker, router engine and assembler working through it.
// Nothing in it outlives the pass.
type RoutingContext struct {
	store   *db.Store
	tx      *sql.Tx
	channel common.Channel
	opts    Options
	now     func() time.Time

	gaps      *GapTracker
	assembler *BatchAssembler
	engine    *router.Engine
	cache     *router.Cache
	txns      *txnSet

	byTrigger map[string][]route
	byTable   map[string][]route
	histories map[int64]*common.TriggerHistory

	stats       Stats
	parseErrors int64
}

func newRoutingContext(ctx context.Context, store *db.Store, tx *sql.Tx, channel common.Channel, opts Options, now func() time.Time) (*RoutingContext, error) {
	nodes, err := store.ListNodes(ctx, tx)
	if err != nil {
		return nil, err
	}
	links, err := store.ListTriggerRouters(ctx, tx, channel.ChannelID)
	if err != nil {
		return nil, err
	}
	histories, err := store.ListTriggerHistories(ctx, tx)
	if err != nil {
		return nil, err
	}
	redirects, err := store.LoadRedirects(ctx, tx)
	if err != nil {
		return nil, err
	}
	cache, err := router.NewCache(opts.ScriptCacheSize)
	if err != nil {
		return nil, err
	}

	rc := &RoutingContext{
		store:     store,
		tx:        tx,
		channel:   channel,
		opts:      opts,
		now:       now,
		cache:     cache,
		txns:      newTxnSet(),
		byTrigger: make(map[string][]route),
		byTable:   make(map[string][]route),
		histories: histories,
		stats:     Stats{ChannelID: channel.ChannelID},
	}
	rc.engine = router.NewEngine(router.Options{
		Querier:     tx,
		Cache:       cache,
		Redirects:   redirects,
		SQLDialect:  store.Dialect().Name,
	})
	rc.assembler = NewBatchAssembler(store, tx, channel, now)

	for _, link := range links {
		r := link.Router
		rt := route{router: r, candidates: router.Candidates(nodes, &r)}
		rc.byTrigger[link.Trigger.TriggerID] = append(rc.byTrigger[link.Trigger.TriggerID], rt)
		table := strings.ToUpper(link.Trigger.SourceTableName)
		rc.byTable[table] = append(rc.byTable[table], rt)
	}
	return rc, nil
}

// run reads, routes and batches every unprocessed change of the channel,
// then reconciles and saves gaps. All writes go through the pass
// transaction; the caller commits or rolls back.
func (rc *RoutingContext) run(ctx context.Context) error {
	gaps, err := LoadGapTracker(ctx, rc.store, rc.tx, rc.channel.ChannelID, GapOptions{
		Grace:     rc.opts.GapGrace,
		Retention: rc.opts.GapRetention,
		MaxGaps:   rc.opts.MaxGaps,
	}, rc.now)
	if err != nil {
		return err
	}
	rc.gaps = gaps
	rc.stats.ResumeDataID = gaps.NextResumePosition()

	if err := rc.assembler.Resume(ctx); err != nil {
		return err
	}

	reader, err := OpenReader(ctx, rc.store, rc.tx, rc.channel, rc.stats.ResumeDataID, gaps.Snapshot(), rc.opts.PrefetchWindow)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		d, boundary, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if d == nil {
			break
		}

		rc.gaps.Observe(d.DataID)
		rc.txns.Add(d.TransactionID)
		rc.stats.LastDataID = d.DataID

		if err := rc.route(ctx, d, boundary); err != nil {
			return err
		}
		if boundary {
			if err := rc.assembler.CloseAtBoundary(ctx); err != nil {
				return err
			}
		}
	}
	rc.stats.DataRead = reader.Read()
	reader.Close()

	if err := rc.gaps.Reconcile(ctx, rc.store, rc.tx); err != nil {
		return err
	}
	if err := rc.gaps.Save(ctx, rc.store, rc.tx); err != nil {
		return err
	}
	if err := rc.assembler.Finish(ctx); err != nil {
		return err
	}

	rc.fillStats()
	return nil
}

func (rc *RoutingContext) routesFor(d *common.Data) ([]route, *common.TriggerHistory) {
	hist := rc.histories[d.TriggerHistID]
	if hist != nil {
		if routes, ok := rc.byTrigger[hist.TriggerID]; ok {
			return routes, hist
		}
	}
	return rc.byTable[strings.ToUpper(d.TableName)], hist
}

func needsColumns(r *common.Router) bool {
	return r.RouterType != "" && r.RouterType != common.RouterTypeDefault &&
		strings.TrimSpace(r.RouterExpression) != ""
}

// route sends d to every node its routers select. A node selected by
// more than one router receives d once, attributed to the first router.
func (rc *RoutingContext) route(ctx context.Context, d *common.Data, boundary bool) error {
	routes, hist := rc.routesFor(d)

	var row, old map[string]*string
	parsed := false
	targets := make(map[string]struct{})

	for i := range routes {
		rt := &routes[i]
		if !rt.router.Syncs(d.EventType) {
			continue
		}
		candidates := router.ExcludeSource(rt.candidates, d.SourceNodeID)
		if len(candidates) == 0 {
			continue
		}

		if !parsed && needsColumns(&rt.router) {
			var err error
			row, old, err = d.ColumnValues(hist)
			if err != nil {
				rc.parseErrors++
				log.Warn().
					Err(err).
					Str("channel_id", rc.channel.ChannelID).
					Int64("data_id", d.DataID).
					Msg("Unreadable column values, change routed nowhere")
				break
			}
			parsed = true
		}

		ids, err := rc.engine.Route(ctx, &router.Request{
			Data:       d,
			Row:        row,
			Old:        old,
			Router:     &rt.router,
			Candidates: candidates,
		})
		if err != nil {
			return err
		}

		for _, nodeID := range ids {
			if _, dup := targets[nodeID]; dup {
				continue
			}
			targets[nodeID] = struct{}{}
			if _, _, err := rc.assembler.Offer(ctx, nodeID, d, rt.router.RouterID, boundary); err != nil {
				return err
			}
		}
	}

	if len(targets) == 0 {
		rc.assembler.Unrouted(d)
		rc.stats.DataUnrouted++
	} else {
		rc.stats.DataRouted++
	}
	return nil
}

func (rc *RoutingContext) fillStats() {
	rc.gaps.fillStats(&rc.stats)
	rc.stats.Transactions = rc.txns.Len()
	rc.stats.DataEvents = rc.assembler.Events()
	rc.stats.BatchesClosed = int64(len(rc.assembler.Closed()))
	rc.stats.BatchesOpen = rc.assembler.OpenCount()
	rc.stats.RouterErrors = rc.engine.ExpressionErrors() + rc.parseErrors
}
