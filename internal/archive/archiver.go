// Package archive periodically moves completed backtest results out of
// MongoDB into gzipped NDJSON files, mirroring the teacher's ITCH trade
// archiver but sweeping backtest_trades and backtest_equity_points by run
// age instead of a single tick stream.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Archiver periodically moves old backtest runs from MongoDB to local
// gzipped NDJSON files, deleting the oldest archives when total size
// exceeds maxBytes.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
}

// New creates a new Archiver.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	log.Printf("archiver: dir=%s max=%dGB interval=%v age=%v",
		a.dir, a.maxBytes>>30, a.interval, a.maxAge)

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		log.Printf("archiver: load cursor: %v", err)
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	runIDs, err := a.dueRunIDs(ctx, cursor, cutoff)
	if err != nil {
		log.Printf("archiver: find due runs: %v", err)
		return
	}
	if len(runIDs) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	trades, err := a.queryTrades(ctx, runIDs)
	if err != nil {
		log.Printf("archiver: query trades: %v", err)
		return
	}
	points, err := a.queryEquityPoints(ctx, runIDs)
	if err != nil {
		log.Printf("archiver: query equity points: %v", err)
		return
	}

	tradeBatches := groupTradesByDay(trades)
	for day, batch := range tradeBatches {
		if err := writeBatch(a.dir, "trades", day, batch); err != nil {
			log.Printf("archiver: write trades %s: %v", day, err)
			return
		}
		log.Printf("archiver: archived %d trades for %s", len(batch), day)
	}

	pointBatches := groupPointsByDay(points)
	for day, batch := range pointBatches {
		if err := writeBatch(a.dir, "equity_points", day, batch); err != nil {
			log.Printf("archiver: write equity points %s: %v", day, err)
			return
		}
		log.Printf("archiver: archived %d equity points for %s", len(batch), day)
	}

	if err := a.deleteRuns(ctx, runIDs); err != nil {
		log.Printf("archiver: delete archived runs: %v", err)
		return
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

// archivedTradeDoc mirrors a backtest_trades document.
type archivedTradeDoc struct {
	RunID      string    `bson:"run_id"      json:"run_id"`
	Symbol     string    `bson:"symbol"      json:"symbol"`
	Venue      string    `bson:"venue"       json:"venue"`
	Side       string    `bson:"side"        json:"side"`
	Size       float64   `bson:"size"        json:"size"`
	Price      float64   `bson:"price"       json:"price"`
	Time       time.Time `bson:"time"        json:"time"`
	Fees       float64   `bson:"fees"        json:"fees"`
	PnL        float64   `bson:"pnl"         json:"pnl"`
	HasPnL     bool      `bson:"has_pnl"     json:"has_pnl"`
	ForcedExit bool      `bson:"forced_exit" json:"forced_exit"`
}

// archivedEquityPointDoc mirrors a backtest_equity_points document.
type archivedEquityPointDoc struct {
	RunID         string    `bson:"run_id"         json:"run_id"`
	Time          time.Time `bson:"time"           json:"time"`
	Equity        float64   `bson:"equity"         json:"equity"`
	Cash          float64   `bson:"cash"           json:"cash"`
	PositionValue float64   `bson:"position_value" json:"position_value"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("sim_state").FindOne(ctx, bson.M{"key": "archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": "archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("archiver: save cursor: %v", err)
	}
}

// dueRunIDs returns the run_id of every backtest_runs document finished in
// [from, to), the unit of archival (a run's trades and equity points always
// move together).
func (a *Archiver) dueRunIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	filter := bson.M{
		"finished_at": bson.M{"$gte": from, "$lt": to},
	}
	cur, err := a.db.Collection("backtest_runs").Find(ctx, filter, options.Find().SetProjection(bson.M{"run_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find runs: %w", err)
	}
	defer cur.Close(ctx)

	var docs []struct {
		RunID string `bson:"run_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.RunID
	}
	return ids, nil
}

func (a *Archiver) queryTrades(ctx context.Context, runIDs []string) ([]archivedTradeDoc, error) {
	filter := bson.M{"run_id": bson.M{"$in": runIDs}}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}})

	cur, err := a.db.Collection("backtest_trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer cur.Close(ctx)

	var trades []archivedTradeDoc
	if err := cur.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func (a *Archiver) queryEquityPoints(ctx context.Context, runIDs []string) ([]archivedEquityPointDoc, error) {
	filter := bson.M{"run_id": bson.M{"$in": runIDs}}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}})

	cur, err := a.db.Collection("backtest_equity_points").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find equity points: %w", err)
	}
	defer cur.Close(ctx)

	var points []archivedEquityPointDoc
	if err := cur.All(ctx, &points); err != nil {
		return nil, fmt.Errorf("decode equity points: %w", err)
	}
	return points, nil
}

func groupTradesByDay(trades []archivedTradeDoc) map[string][]archivedTradeDoc {
	batches := make(map[string][]archivedTradeDoc)
	for _, t := range trades {
		day := t.Time.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], t)
	}
	return batches
}

func groupPointsByDay(points []archivedEquityPointDoc) map[string][]archivedEquityPointDoc {
	batches := make(map[string][]archivedEquityPointDoc)
	for _, p := range points {
		day := p.Time.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], p)
	}
	return batches
}

// writeBatch writes docs as gzipped NDJSON to dir/kind/YYYY/MM/DD.jsonl.gz.
func writeBatch(dir, kind, day string, docs any) error {
	path := filepath.Join(dir, kind, day+".jsonl.gz")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	switch d := docs.(type) {
	case []archivedTradeDoc:
		for _, t := range d {
			if err := enc.Encode(t); err != nil {
				gz.Close()
				return fmt.Errorf("encode: %w", err)
			}
		}
	case []archivedEquityPointDoc:
		for _, p := range d {
			if err := enc.Encode(p); err != nil {
				gz.Close()
				return fmt.Errorf("encode: %w", err)
			}
		}
	default:
		gz.Close()
		return fmt.Errorf("writeBatch: unsupported doc type %T", docs)
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (a *Archiver) deleteRuns(ctx context.Context, runIDs []string) error {
	filter := bson.M{"run_id": bson.M{"$in": runIDs}}

	if _, err := a.db.Collection("backtest_trades").DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete archived trades: %w", err)
	}
	if _, err := a.db.Collection("backtest_equity_points").DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete archived equity points: %w", err)
	}
	if _, err := a.db.Collection("backtest_runs").DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete archived runs: %w", err)
	}
	return nil
}

// rotate deletes archive files in path order until total size is under
// maxBytes: every equity_points file sorts before any trades file, and
// within one kind the oldest day goes first.
func (a *Archiver) rotate() {
	type entry struct {
		path string
		size int64
	}

	var files []entry
	var total int64

	filepath.Walk(a.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	// Sort oldest first (path ends in YYYY/MM/DD.jsonl.gz so lexicographic
	// order is chronological order within each kind).
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("archiver: remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		log.Printf("archiver: rotated out %s (%d bytes)", f.path, f.size)
	}
}
