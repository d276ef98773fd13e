package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-rate-alerts/internal/monitor"
)

const rateModelABIJSON = `[{"inputs":[],"name":"supplyRatePerBlock","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var rateModelABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(rateModelABIJSON))
	if err != nil {
		panic("failed to parse rate model ABI: " + err.Error())
	}
	rateModelABI = parsed
}

// OnChainOptions parameterise the on-chain lending rate provider. Markets
// maps a symbol to the money-market contract exposing supplyRatePerBlock.
type OnChainOptions struct {
	RPCURL        string
	Markets       map[string]string
	BlocksPerYear int64
	Timeout       time.Duration
}

// OnChain reads Compound-style per-block supply rates via Ethereum RPC and
// annualises them into a percentage.
type OnChain struct {
	opts      OnChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnChain builds an on-chain rate provider.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	return &OnChain{opts: opts, logger: logger.With().Str("component", "onchain_fetcher").Logger()}
}

// Fetch reads supplyRatePerBlock for the target's market contract and
// converts it to an annualised percentage rate.
func (o *OnChain) Fetch(ctx context.Context, target monitor.Target) (monitor.Observation, error) {
	if o.opts.RPCURL == "" {
		return monitor.Observation{}, errors.New("ethereum rpc url not configured")
	}

	market, ok := o.opts.Markets[target.Key.Symbol]
	if !ok || market == "" {
		return monitor.Observation{}, fmt.Errorf("no market contract configured for %s", target.Key.Symbol)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return monitor.Observation{}, err
	}

	addr := common.HexToAddress(market)
	payload, err := rateModelABI.Pack("supplyRatePerBlock")
	if err != nil {
		return monitor.Observation{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return monitor.Observation{}, err
	}

	outputs, err := rateModelABI.Unpack("supplyRatePerBlock", res)
	if err != nil {
		return monitor.Observation{}, err
	}
	if len(outputs) != 1 {
		return monitor.Observation{}, errors.New("unexpected supplyRatePerBlock response")
	}

	perBlock, ok := outputs[0].(*big.Int)
	if !ok {
		return monitor.Observation{}, errors.New("failed to decode supplyRatePerBlock output")
	}

	blocksPerYear := o.opts.BlocksPerYear
	if blocksPerYear <= 0 {
		blocksPerYear = 2_628_000
	}

	// rate is a 1e18-scaled per-block fraction; annualise and express in %.
	annual := decimal.NewFromBigInt(perBlock, -18).
		Mul(decimal.NewFromInt(blocksPerYear)).
		Mul(decimal.NewFromInt(100))

	return monitor.Observation{Rate: annual, ObservedAt: time.Now().UTC()}, nil
}

func (o *OnChain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}
