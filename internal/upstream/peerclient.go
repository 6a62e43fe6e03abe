// Package upstream is the chain follower: a client of the
// node-to-node chain-sync and block-fetch mini-protocols that feeds
// the block store and exposes a stepped API with batched body fetches
// and a rollback buffer.
//
// The network boundary is the narrow, synchronous PeerClient
// interface below, wrapped over gouroboros's natively
// callback-driven mini-protocol clients. That seam keeps the
// control-flow logic in upstream.go unit-testable against a fake,
// without a live node.
package upstream

import (
	"context"
	"fmt"
	"sync"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/blinklabs-io/gouroboros/protocol/blockfetch"
	"github.com/blinklabs-io/gouroboros/protocol/chainsync"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
)

// ResponseKind distinguishes the three possible RequestNext outcomes.
type ResponseKind int

const (
	KindRollForward ResponseKind = iota
	KindRollBackward
	KindAwait
)

// Tip is the upstream node's reported chain tip.
type Tip struct {
	Point       chainstore.Point
	ChainLength uint64
}

// NextResponse is the decoded result of one RequestNext call.
type NextResponse struct {
	Kind  ResponseKind
	Point chainstore.Point // header point (RollForward) or target (RollBackward)
	Tip   Tip
}

// PeerClient is the narrow, synchronous network boundary Upstream
// drives: FindIntersect, RequestNext, and FetchRange are the entire
// wire-protocol contract, consumed from the underlying mini-protocol
// library rather than reimplemented.
type PeerClient interface {
	FindIntersect(ctx context.Context, candidates []chainstore.Point) (found chainstore.Point, ok bool, tip Tip, err error)
	RequestNext(ctx context.Context) (NextResponse, error)
	FetchRange(ctx context.Context, oldest, latest chainstore.Point) ([][]byte, error)
	Close() error
}

// gouroborosPeerClient adapts gouroboros's callback-driven chain-sync
// and block-fetch mini-protocol clients into the synchronous
// PeerClient contract above: RequestNext waits on buffered channels
// that turn each chain-sync callback delivery into one return, and
// FetchRange collects the block-fetch callback's bodies into a slice
// that it returns once GetBlockRange completes.
type gouroborosPeerClient struct {
	conn *ouroboros.Connection

	mu        sync.Mutex
	nextCh    chan NextResponse
	fetchCh   chan [][]byte
	fetchBody [][]byte
	errCh     chan error
}

// Dial opens a node-to-node session against address (host:port) with
// the given network magic, which the handshake requires.
func Dial(ctx context.Context, address string, magic uint64) (PeerClient, error) {
	client := &gouroborosPeerClient{
		nextCh:  make(chan NextResponse, 1),
		fetchCh: make(chan [][]byte, 1),
		errCh:   make(chan error, 1),
	}

	conn, err := ouroboros.NewConnection(
		ouroboros.WithNetworkMagic(uint32(magic)),
		ouroboros.WithNodeToNode(true),
		ouroboros.WithKeepAlive(true),
		ouroboros.WithChainSyncConfig(
			chainsync.NewConfig(
				chainsync.WithRollForwardFunc(client.onRollForward),
				chainsync.WithRollBackwardFunc(client.onRollBackward),
			),
		),
		ouroboros.WithBlockFetchConfig(
			blockfetch.NewConfig(
				blockfetch.WithBlockFunc(client.onBlock),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream: connect to %s: %w", address, cdmerr.ErrTransport)
	}
	if err := conn.Dial("tcp", address); err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", address, cdmerr.ErrTransport)
	}
	client.conn = conn
	return client, nil
}

func (c *gouroborosPeerClient) onRollForward(ctx chainsync.CallbackContext, blockType uint, blockData interface{}) error {
	slot, hash, err := decodeHeaderPoint(blockData)
	if err != nil {
		c.errCh <- fmt.Errorf("upstream: decode header: %w", cdmerr.ErrProtocol)
		return err
	}
	c.nextCh <- NextResponse{
		Kind:  KindRollForward,
		Point: chainstore.Point{Slot: slot, Hash: hash},
		Tip:   decodeTip(ctx.Tip),
	}
	return nil
}

func (c *gouroborosPeerClient) onRollBackward(ctx chainsync.CallbackContext, point ocommon.Point, tip chainsync.Tip) error {
	c.nextCh <- NextResponse{
		Kind:  KindRollBackward,
		Point: chainstore.Point{Slot: point.Slot, Hash: point.Hash},
		Tip:   decodeTip(tip),
	}
	return nil
}

func (c *gouroborosPeerClient) onBlock(ctx blockfetch.CallbackContext, blockType uint, blockData []byte) error {
	c.fetchBody = append(c.fetchBody, blockData)
	return nil
}

func (c *gouroborosPeerClient) FindIntersect(ctx context.Context, candidates []chainstore.Point) (chainstore.Point, bool, Tip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	points := make([]ocommon.Point, 0, len(candidates))
	for _, cand := range candidates {
		points = append(points, ocommon.Point{Slot: cand.Slot, Hash: cand.Hash})
	}

	point, tip, err := c.conn.ChainSync().Client.GetAvailableBlockRange(points)
	if err != nil {
		return chainstore.Point{}, false, Tip{}, fmt.Errorf("upstream: find_intersect: %w", cdmerr.ErrTransport)
	}
	if point.Slot == 0 && len(point.Hash) == 0 {
		return chainstore.Point{}, false, decodeTip(tip), nil
	}
	return chainstore.Point{Slot: point.Slot, Hash: point.Hash}, true, decodeTip(tip), nil
}

func (c *gouroborosPeerClient) RequestNext(ctx context.Context) (NextResponse, error) {
	if err := c.conn.ChainSync().Client.RequestNext(); err != nil {
		return NextResponse{}, fmt.Errorf("upstream: request_next: %w", cdmerr.ErrTransport)
	}
	select {
	case resp := <-c.nextCh:
		return resp, nil
	case err := <-c.errCh:
		return NextResponse{}, err
	case <-ctx.Done():
		return NextResponse{}, fmt.Errorf("upstream: request_next: %w", cdmerr.ErrTransport)
	}
}

func (c *gouroborosPeerClient) FetchRange(ctx context.Context, oldest, latest chainstore.Point) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchBody = nil

	start := ocommon.Point{Slot: oldest.Slot, Hash: oldest.Hash}
	end := ocommon.Point{Slot: latest.Slot, Hash: latest.Hash}
	if err := c.conn.BlockFetch().Client.GetBlockRange(start, end); err != nil {
		return nil, fmt.Errorf("upstream: fetch_range: %w", cdmerr.ErrTransport)
	}
	return c.fetchBody, nil
}

func (c *gouroborosPeerClient) Close() error {
	return c.conn.Close()
}

func decodeTip(t chainsync.Tip) Tip {
	return Tip{
		Point:       chainstore.Point{Slot: t.Point.Slot, Hash: t.Point.Hash},
		ChainLength: t.BlockNumber,
	}
}

// decodeHeaderPoint extracts (slot, hash) from a decoded chain-sync
// header. gouroboros decodes headers per-era; blockData is expected to
// expose a common accessor for slot/hash across Byron/Shelley-and-later
// headers. The concrete type assertion is narrow on purpose: any
// header shape gouroboros doesn't recognize surfaces as a Protocol
// error rather than a panic.
func decodeHeaderPoint(blockData interface{}) (slot uint64, hash []byte, err error) {
	type header interface {
		SlotNumber() uint64
		Hash() string
	}
	h, ok := blockData.(header)
	if !ok {
		return 0, nil, fmt.Errorf("upstream: unrecognized header type %T", blockData)
	}
	return h.SlotNumber(), []byte(h.Hash()), nil
}
