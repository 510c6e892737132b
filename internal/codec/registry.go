// Package codec holds the static per-family ABI registry and the
// encode/decode helpers for the router, lending-pool, ERC-20, and
// flash-loan-receiver calls the analyzers and bundle builder need. The
// teacher loads one DEX's ABI set via util.LoadABIFromHardhatArtifact and
// wraps it behind ContractClient.Call/DecodeTransaction; this generalizes
// that one-contract pattern to a selector-keyed registry spanning several
// contract kinds at once (see internal/types.DexFamily).
package codec

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// Registry loads ABIs by role name and dispatches decode_call by selector.
type Registry struct {
	abis      map[string]abi.ABI // role -> ABI (role e.g. "uniswap_v2_router", "erc20", "aave_v3_pool")
	selectors map[[4]byte]selectorEntry
}

type selectorEntry struct {
	role   string
	method abi.Method
}

func NewRegistry() *Registry {
	return &Registry{
		abis:      make(map[string]abi.ABI),
		selectors: make(map[[4]byte]selectorEntry),
	}
}

// LoadJSON parses a raw ABI JSON document and registers it under role,
// indexing every method selector for decode dispatch.
func (r *Registry) LoadJSON(role, rawJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(rawJSON))
	if err != nil {
		return coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("parse abi for %s: %w", role, err))
	}
	r.abis[role] = parsed
	for _, m := range parsed.Methods {
		var sel [4]byte
		copy(sel[:], m.ID)
		r.selectors[sel] = selectorEntry{role: role, method: m}
	}
	return nil
}

func (r *Registry) ABI(role string) (abi.ABI, bool) {
	a, ok := r.abis[role]
	return a, ok
}

// DecodeCall identifies the function selector in input and unpacks its
// arguments into a DecodedCall. Unknown selectors are not an error: the
// mempool monitor's fast filter is expected to see plenty of calls outside
// the known registry and should skip them, not fail.
func (r *Registry) DecodeCall(input []byte) (*coretypes.DecodedCall, bool, error) {
	if len(input) < 4 {
		return nil, false, nil
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	entry, ok := r.selectors[sel]
	if !ok {
		return nil, false, nil
	}

	args := make(map[string]any)
	values, err := entry.method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, false, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("unpack %s: %w", entry.method.Name, err))
	}
	for i, arg := range entry.method.Inputs {
		name := arg.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		args[name] = values[i]
	}

	return &coretypes.DecodedCall{
		Kind:     entry.role + "." + entry.method.Name,
		Selector: sel,
		Params:   args,
	}, true, nil
}

// Encode packs method on the named role's ABI.
func (r *Registry) Encode(role, method string, args ...any) ([]byte, error) {
	a, ok := r.abis[role]
	if !ok {
		return nil, coretypes.Wrap(coretypes.ErrUnknownRouter, fmt.Errorf("role %s not registered", role))
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("pack %s.%s: %w", role, method, err))
	}
	return data, nil
}

// DecodeOutputs unpacks a method's raw return data, as used for eth_call
// results such as getReserves/slot0/getUserAccountData.
func (r *Registry) DecodeOutputs(role, method string, data []byte) ([]any, error) {
	a, ok := r.abis[role]
	if !ok {
		return nil, coretypes.Wrap(coretypes.ErrUnknownRouter, fmt.Errorf("role %s not registered", role))
	}
	m, ok := a.Methods[method]
	if !ok {
		return nil, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("method %s not found on %s", method, role))
	}
	values, err := m.Outputs.Unpack(data)
	if err != nil {
		return nil, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("unpack outputs %s.%s: %w", role, method, err))
	}
	return values, nil
}

// Selector returns the 4-byte selector for role.method, used by the mempool
// monitor's fast filter to avoid full ABI decode on every transaction.
func (r *Registry) Selector(role, method string) ([4]byte, bool) {
	a, ok := r.abis[role]
	if !ok {
		return [4]byte{}, false
	}
	m, ok := a.Methods[method]
	if !ok {
		return [4]byte{}, false
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	return sel, true
}

// IsSelectorKnown is the fast path the mempool filter uses before paying for
// a full decode.
func (r *Registry) IsSelectorKnown(input []byte) bool {
	if len(input) < 4 {
		return false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	_, ok := r.selectors[sel]
	return ok
}
