// Package executor turns an approved AI decision into exchange orders and
// a persisted Trade row, grounded on the teacher's execution.Executor: a
// struct holding a broker client and consuming a channel of inbound work,
// generalized from a log-and-placeholder signal consumer to the real
// entry→stop→take-profit sequencing and rollback the confluence engine
// needs (§4.9).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trading-systemv1/internal/apperr"
	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/model"
)

// EntryDeviationTolerance and fillPoll* bound the re-validation and entry
// polling steps (§4.9).
const (
	EntryDeviationTolerance = 0.002
	fillPollInterval        = time.Second
	fillPollTimeout         = 30 * time.Second
)

// ErrPriceDrifted is returned when the current price has moved too far
// from the decision's entry since the AI adapter approved it.
var ErrPriceDrifted = errors.New("executor: current price drifted from decision entry")

// ErrEntryNotFilled is returned when the entry order does not reach FILLED
// within fillPollTimeout, or returns a terminal non-filled status.
var ErrEntryNotFilled = errors.New("executor: entry order did not fill")

// Request is everything the executor needs to act on one approved setup.
type Request struct {
	ConfluenceStateID int64
	Direction         model.Direction
	Entry             float64
	Stop              float64
	StopSource        model.StopSource
	TakeProfit        float64
	SizeBase          float64
	RR                float64
	AIConfidence      int
	AIReasoning       string
}

// Executor places entry/stop/take-profit orders and persists the resulting
// Trade, rolling back partial risk-order placement on failure.
type Executor struct {
	client exchange.RESTClient
	trades model.TradeRepo
	log    *slog.Logger
}

func New(client exchange.RESTClient, trades model.TradeRepo, log *slog.Logger) *Executor {
	return &Executor{client: client, trades: trades, log: log}
}

// Execute runs the full entry→stop→take-profit sequence for req and
// returns the persisted Trade. currentPrice is a freshly read market price
// used for the re-validation step.
func (e *Executor) Execute(ctx context.Context, req Request, currentPrice float64) (model.Trade, error) {
	if err := e.revalidate(req, currentPrice); err != nil {
		return model.Trade{}, err
	}

	entryAck, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:     model.OrderMarket,
		Side:     entrySide(req.Direction),
		SizeBase: req.SizeBase,
	})
	if err != nil {
		return model.Trade{}, fmt.Errorf("executor: place entry: %w", err)
	}

	fillPrice, fillStatus, err := e.pollUntilFilled(ctx, entryAck.OrderID)
	if err != nil {
		return model.Trade{}, fmt.Errorf("executor: poll entry: %w", err)
	}
	if fillStatus != model.OrderFilled {
		return model.Trade{}, apperr.Business("executor.poll_entry", fmt.Errorf("%w: status=%s", ErrEntryNotFilled, fillStatus))
	}

	stopAck, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:       model.OrderStopLimit,
		Side:       exitSide(req.Direction),
		SizeBase:   req.SizeBase,
		StopPrice:  req.Stop,
		LimitPrice: req.Stop,
	})
	if err != nil {
		e.log.Error("executor: stop placement failed, entry remains open",
			"stage", "place_stop", "confluence_state_id", req.ConfluenceStateID, "error", err)
		return model.Trade{}, fmt.Errorf("executor: place stop: %w", err)
	}

	tpAck, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:       model.OrderLimit,
		Side:       exitSide(req.Direction),
		SizeBase:   req.SizeBase,
		LimitPrice: req.TakeProfit,
	})
	if err != nil {
		if cancelErr := e.client.CancelOrder(ctx, stopAck.OrderID); cancelErr != nil {
			e.log.Error("executor: rollback cancel of stop order failed, operator intervention required",
				"stage", "rollback_stop", "confluence_state_id", req.ConfluenceStateID,
				"stop_order_id", stopAck.OrderID, "error", cancelErr)
		}
		return model.Trade{}, fmt.Errorf("executor: place take-profit: %w", err)
	}

	trade := model.Trade{
		ConfluenceStateID: req.ConfluenceStateID,
		Direction:         req.Direction,
		EntryPrice:        fillPrice,
		EntryAt:           time.Now().UTC(),
		SizeBase:          req.SizeBase,
		SizeQuote:         req.SizeBase * fillPrice,
		StopPrice:         req.Stop,
		StopSource:        req.StopSource,
		TakeProfit:        req.TakeProfit,
		RRRatio:           req.RR,
		EntryOrderID:      entryAck.OrderID,
		StopOrderID:       stopAck.OrderID,
		TPOrderID:         tpAck.OrderID,
		Status:            model.TradeOpen,
		AIConfidence:      req.AIConfidence,
		AIReasoning:       req.AIReasoning,
	}

	persisted, err := e.trades.Create(ctx, trade)
	if err != nil {
		// Orders are already live on the exchange at this point; failing to
		// record the trade leaves the engine blind to a real position, so
		// this is Fatal rather than a plain transient DB error.
		return model.Trade{}, apperr.Fatal("executor.persist_trade", fmt.Errorf("executor: persist trade: %w", err))
	}
	return persisted, nil
}

func (e *Executor) revalidate(req Request, currentPrice float64) error {
	deviation := abs(currentPrice-req.Entry) / req.Entry
	if deviation > EntryDeviationTolerance {
		return apperr.Validation("executor.revalidate", fmt.Errorf("%w: %.4f > %.4f", ErrPriceDrifted, deviation, EntryDeviationTolerance))
	}
	if req.Direction == model.DirectionLong && req.Stop >= req.Entry {
		return apperr.Validation("executor.revalidate", fmt.Errorf("executor: stop %.2f not below entry %.2f for LONG", req.Stop, req.Entry))
	}
	if req.Direction == model.DirectionShort && req.Stop <= req.Entry {
		return apperr.Validation("executor.revalidate", fmt.Errorf("executor: stop %.2f not above entry %.2f for SHORT", req.Stop, req.Entry))
	}
	if req.SizeBase <= 0 {
		return apperr.Validation("executor.revalidate", fmt.Errorf("executor: non-positive size %.8f", req.SizeBase))
	}
	return nil
}

// pollUntilFilled polls OrderStatus every fillPollInterval until the order
// reaches a terminal status or fillPollTimeout elapses. A retryable
// OrderStatus error (a transient REST blip, per apperr.IsRetryable) does not
// abort the poll — it just counts as one more unfilled tick — since the
// client's own backoff already absorbs brief failures and a single missed
// poll is not a reason to give up tracking the entry order.
func (e *Executor) pollUntilFilled(ctx context.Context, orderID string) (float64, model.OrderStatus, error) {
	deadline := time.Now().Add(fillPollTimeout)
	for {
		ack, err := e.client.OrderStatus(ctx, orderID)
		if err != nil && !apperr.IsRetryable(err) {
			return 0, "", err
		}
		if err == nil && ack.Status.Terminal() {
			return ack.FillPrice, ack.Status, nil
		}
		if time.Now().After(deadline) {
			return 0, model.OrderPending, apperr.Business("executor.poll_entry", fmt.Errorf("%w: timed out after %s", ErrEntryNotFilled, fillPollTimeout))
		}
		select {
		case <-ctx.Done():
			return 0, "", ctx.Err()
		case <-time.After(fillPollInterval):
		}
	}
}

func entrySide(dir model.Direction) model.OrderSide {
	if dir == model.DirectionLong {
		return model.SideBuy
	}
	return model.SideSell
}

func exitSide(dir model.Direction) model.OrderSide {
	if dir == model.DirectionLong {
		return model.SideSell
	}
	return model.SideBuy
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
