package strategy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// targetTradeRow is the side-file shape: one observed trade of the wallet
// being copied. The file is either a JSON array or JSONL of these rows.
type targetTradeRow struct {
	TradeID    string          `json:"trade_id"`
	Seq        int64           `json:"seq"`
	AssetID    string          `json:"asset_id"`
	Side       string          `json:"side"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Size       decimal.Decimal `json:"size"`
}

type targetTrade struct {
	tradeID    string
	seq        int64
	assetID    string
	side       domain.OrderSide
	limitPrice decimal.Decimal
	size       decimal.Decimal
}

// CopyWalletReplay replays a fixed list of target trades, submitting each one
// signal_delay_ticks after its recorded seq. Every trade submits at most once.
type CopyWalletReplay struct {
	Base
	logger *slog.Logger

	trades    []targetTrade
	delay     int64
	primary   string
	submitted []bool
}

// NewCopyWalletReplay builds the strategy from params trades_path (required)
// and signal_delay_ticks (default 0). The side file is loaded and validated
// up front so a bad file fails the run before any event is processed.
func NewCopyWalletReplay(cfg Config, logger *slog.Logger) (Strategy, error) {
	path := paramString(cfg.Params, "trades_path", "")
	delay := paramInt(cfg.Params, "signal_delay_ticks", 0)

	var problems []string
	if path == "" {
		problems = append(problems, "trades_path is required")
	}
	if delay < 0 {
		problems = append(problems, fmt.Sprintf("signal_delay_ticks must be non-negative, got %d", delay))
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}

	trades, err := loadTargetTrades(path)
	if err != nil {
		return nil, err
	}

	return &CopyWalletReplay{
		logger:    logger.With(slog.String("strategy", "copy_wallet_replay")),
		trades:    trades,
		delay:     delay,
		submitted: make([]bool, len(trades)),
	}, nil
}

// Name returns the strategy identifier.
func (c *CopyWalletReplay) Name() string { return "copy_wallet_replay" }

func (c *CopyWalletReplay) OnStart(primaryAssetID string, _ decimal.Decimal) error {
	c.primary = primaryAssetID
	c.logger.Info("replaying target trades",
		slog.Int("trades", len(c.trades)),
		slog.Int64("signal_delay_ticks", c.delay),
	)
	return nil
}

// OnEvent submits every not-yet-submitted trade whose trigger seq
// (seq + signal_delay_ticks) has been reached.
func (c *CopyWalletReplay) OnEvent(tick Tick) ([]domain.OrderIntent, error) {
	var intents []domain.OrderIntent
	for i, t := range c.trades {
		if c.submitted[i] || t.seq+c.delay > tick.Seq {
			continue
		}
		c.submitted[i] = true

		assetID := t.assetID
		if assetID == "" {
			assetID = c.primary
		}
		meta := map[string]string{"target_seq": strconv.FormatInt(t.seq, 10)}
		if t.tradeID != "" {
			meta["trade_id"] = t.tradeID
		}
		intents = append(intents, domain.SubmitIntent(assetID, t.side, t.limitPrice, t.size, "copy_wallet_trade", meta))
	}
	return intents, nil
}

// OnFinish logs trades whose trigger seq was never reached on this tape.
func (c *CopyWalletReplay) OnFinish() error {
	var missed []int64
	for i, t := range c.trades {
		if !c.submitted[i] {
			missed = append(missed, t.seq)
		}
	}
	if len(missed) > 0 {
		c.logger.Warn("target trades never triggered",
			slog.Int("count", len(missed)),
			slog.Any("target_seqs", missed),
		)
	}
	return nil
}

func loadTargetTrades(path string) ([]targetTrade, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigError("trades_path %s: %v", path, err)
	}

	var rows []targetTradeRow
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, domain.NewConfigError("trades_path %s: %v", path, err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var row targetTradeRow
			if err := json.Unmarshal(text, &row); err != nil {
				return nil, domain.NewConfigError("trades_path %s line %d: %v", path, line, err)
			}
			rows = append(rows, row)
		}
		if err := sc.Err(); err != nil {
			return nil, domain.NewConfigError("trades_path %s: %v", path, err)
		}
	}

	var problems []string
	trades := make([]targetTrade, 0, len(rows))
	for i, row := range rows {
		side, err := domain.ParseOrderSide(row.Side)
		if err != nil {
			problems = append(problems, fmt.Sprintf("trade %d: %v", i, err))
			continue
		}
		if !row.LimitPrice.IsPositive() {
			problems = append(problems, fmt.Sprintf("trade %d: limit_price must be positive, got %s", i, row.LimitPrice))
		}
		if !row.Size.IsPositive() {
			problems = append(problems, fmt.Sprintf("trade %d: size must be positive, got %s", i, row.Size))
		}
		trades = append(trades, targetTrade{
			tradeID:    row.TradeID,
			seq:        row.Seq,
			assetID:    row.AssetID,
			side:       side,
			limitPrice: row.LimitPrice,
			size:       row.Size,
		})
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}

	sort.SliceStable(trades, func(i, j int) bool { return trades[i].seq < trades[j].seq })
	return trades, nil
}
