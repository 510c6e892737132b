package state

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/codec"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type positionEntry struct {
	position  coretypes.LendingPosition
	expiresAt time.Time
}

// PositionCache tracks lending positions keyed by protocol+user, refreshed
// on demand when an entry is missing, expired or marked dirty. It does not
// scan Borrow/Supply events itself: only the users a caller asks for are
// cached, and a user is marked dirty only through MarkDirty.
type PositionCache struct {
	mu      sync.RWMutex
	entries map[string]*positionEntry
	dirty   map[string]bool
	ttl     time.Duration

	client       *chain.Client
	registry     *codec.Registry
	log          *zap.Logger
	poolAddrs    map[coretypes.LendingProtocol]common.Address
	dataProvider map[coretypes.LendingProtocol]common.Address
}

func NewPositionCache(client *chain.Client, registry *codec.Registry, ttl time.Duration, poolAddrs, dataProviderAddrs map[coretypes.LendingProtocol]common.Address, log *zap.Logger) *PositionCache {
	return &PositionCache{
		entries:      make(map[string]*positionEntry),
		dirty:        make(map[string]bool),
		ttl:          ttl,
		client:       client,
		registry:     registry,
		poolAddrs:    poolAddrs,
		dataProvider: dataProviderAddrs,
		log:          log,
	}
}

func key(protocol coretypes.LendingProtocol, user common.Address) string {
	return user.Hex() + ":" + itoaProtocol(protocol)
}

func itoaProtocol(p coretypes.LendingProtocol) string {
	switch p {
	case coretypes.ProtocolAaveV3:
		return "aave_v3"
	case coretypes.ProtocolCompoundV3:
		return "compound_v3"
	default:
		return "unknown"
	}
}

func (c *PositionCache) Get(ctx context.Context, protocol coretypes.LendingProtocol, user common.Address) (coretypes.LendingPosition, error) {
	k := key(protocol, user)

	c.mu.RLock()
	entry, ok := c.entries[k]
	isDirty := c.dirty[k]
	c.mu.RUnlock()

	if ok && !isDirty && time.Now().Before(entry.expiresAt) {
		return entry.position, nil
	}

	pos, err := c.refresh(ctx, protocol, user)
	if err != nil {
		if ok {
			return entry.position, nil
		}
		return coretypes.LendingPosition{}, err
	}

	c.mu.Lock()
	c.entries[k] = &positionEntry{position: pos, expiresAt: time.Now().Add(c.ttl)}
	c.dirty[k] = false
	c.mu.Unlock()

	return pos, nil
}

// MarkDirty flags a user's position as possibly changed, forcing the next
// Get to refresh it. No code in this module calls it outside tests.
func (c *PositionCache) MarkDirty(protocol coretypes.LendingProtocol, user common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[key(protocol, user)] = true
}

func (c *PositionCache) refresh(ctx context.Context, protocol coretypes.LendingProtocol, user common.Address) (coretypes.LendingPosition, error) {
	poolAddr, ok := c.poolAddrs[protocol]
	if protocol != coretypes.ProtocolAaveV3 || !ok {
		return coretypes.LendingPosition{}, coretypes.Wrap(coretypes.ErrPoolUnknown, nil)
	}

	data, err := c.registry.Encode(codec.RoleAaveV3Pool, "getUserAccountData", user)
	if err != nil {
		return coretypes.LendingPosition{}, err
	}
	out, err := c.client.CallContract(ctx, callMsg(poolAddr, data), nil)
	if err != nil {
		return coretypes.LendingPosition{}, err
	}
	values, err := c.registry.DecodeOutputs(codec.RoleAaveV3Pool, "getUserAccountData", out)
	if err != nil {
		return coretypes.LendingPosition{}, err
	}
	// totalCollateralBase, totalDebtBase, availableBorrowsBase,
	// currentLiquidationThreshold, ltv, healthFactor
	healthFactorRaw := values[5].(*big.Int)
	healthFactor := decimal.NewFromBigInt(healthFactorRaw, -18)

	collateral, debt, err := c.perReserveBalances(ctx, poolAddr, protocol, user)
	if err != nil {
		c.log.Debug("per-reserve balance scan failed, health factor still usable", zap.Error(err))
	}

	return coretypes.LendingPosition{
		Protocol:     protocol,
		User:         user,
		Collateral:   collateral,
		Debt:         debt,
		HealthFactor: healthFactor,
		RefreshedAt:  time.Now(),
	}, nil
}

// perReserveBalances fills in the per-asset breakdown getUserAccountData
// only aggregates: the Aave V3 pool's reserve list, each scanned against the
// protocol data provider's getUserReserveData(asset, user) for the caller's
// aToken (collateral) and variable+stable debt balances.
func (c *PositionCache) perReserveBalances(ctx context.Context, poolAddr common.Address, protocol coretypes.LendingProtocol, user common.Address) ([]coretypes.AssetAmount, []coretypes.AssetAmount, error) {
	dataProviderAddr, ok := c.dataProvider[protocol]
	if !ok {
		return nil, nil, coretypes.Wrap(coretypes.ErrPoolUnknown, nil)
	}

	reservesData, err := c.registry.EncodeGetReservesList()
	if err != nil {
		return nil, nil, err
	}
	reservesOut, err := c.client.CallContract(ctx, callMsg(poolAddr, reservesData), nil)
	if err != nil {
		return nil, nil, err
	}
	reservesValues, err := c.registry.DecodeOutputs(codec.RoleAaveV3Pool, "getReservesList", reservesOut)
	if err != nil {
		return nil, nil, err
	}
	reserves, ok := reservesValues[0].([]common.Address)
	if !ok {
		return nil, nil, coretypes.Wrap(coretypes.ErrEncodingFailure, nil)
	}

	var collateral, debt []coretypes.AssetAmount
	for _, asset := range reserves {
		callData, err := c.registry.EncodeGetUserReserveData(asset, user)
		if err != nil {
			return nil, nil, err
		}
		out, err := c.client.CallContract(ctx, callMsg(dataProviderAddr, callData), nil)
		if err != nil {
			return nil, nil, err
		}
		values, err := c.registry.DecodeOutputs(codec.RoleAaveV3DataProvider, "getUserReserveData", out)
		if err != nil {
			return nil, nil, err
		}
		// currentATokenBalance, currentStableDebt, currentVariableDebt, ...
		aTokenBalance := values[0].(*big.Int)
		stableDebt := values[1].(*big.Int)
		variableDebt := values[2].(*big.Int)

		if aTokenBalance.Sign() > 0 {
			collateral = append(collateral, coretypes.AssetAmount{Asset: asset, Amount: aTokenBalance})
		}
		totalDebt := new(big.Int).Add(stableDebt, variableDebt)
		if totalDebt.Sign() > 0 {
			debt = append(debt, coretypes.AssetAmount{Asset: asset, Amount: totalDebt})
		}
	}
	return collateral, debt, nil
}

