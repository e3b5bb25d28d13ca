package client

import (
	"context"
	"crypto/ed25519"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/escrow"
	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/token"
	"github.com/code-payments/code-escrow/pkg/testutil"
)

const (
	offeredAmount = 100_000_000_000
	wantedAmount  = 50_000_000_000
)

type testEnv struct {
	*testutil.RuntimeEnv

	client *Client

	mintA, mintB ed25519.PublicKey
	maker, taker ed25519.PrivateKey

	makerTokenAccountA, makerTokenAccountB ed25519.PublicKey
	takerTokenAccountA, takerTokenAccountB ed25519.PublicKey
}

func setup(t *testing.T, host func(*runtime.Runtime) Host, overrides *TestOverrides) *testEnv {
	env := &testEnv{
		RuntimeEnv: testutil.NewRuntimeEnv(t, escrow.RuntimeOptions()...),
	}

	if host == nil {
		host = func(rt *runtime.Runtime) Host { return rt }
	}
	if overrides.SubmitBackoff == 0 {
		overrides.SubmitBackoff = time.Millisecond
	}
	env.client = NewClient(host(env.Runtime), WithManualTestOverrides(overrides))

	var mintAuthorityA, mintAuthorityB ed25519.PrivateKey
	env.mintA, mintAuthorityA = env.CreateMint(t, token.ProgramKey, 9)
	env.mintB, mintAuthorityB = env.CreateMint(t, token.ProgramKey, 9)

	env.maker = env.NewFundedWallet(t, 1_000_000_000)
	env.taker = env.NewFundedWallet(t, 1_000_000_000)

	maker := testutil.PublicKey(env.maker)
	taker := testutil.PublicKey(env.taker)

	env.makerTokenAccountA = env.CreateAssociatedTokenAccount(t, maker, env.mintA, token.ProgramKey)
	env.takerTokenAccountB = env.CreateAssociatedTokenAccount(t, taker, env.mintB, token.ProgramKey)
	env.MintTo(t, token.ProgramKey, env.mintA, mintAuthorityA, env.makerTokenAccountA, offeredAmount)
	env.MintTo(t, token.ProgramKey, env.mintB, mintAuthorityB, env.takerTokenAccountB, wantedAmount)

	var err error
	env.makerTokenAccountB, err = token.GetAssociatedAccountForProgram(maker, env.mintB, token.ProgramKey)
	require.NoError(t, err)
	env.takerTokenAccountA, err = token.GetAssociatedAccountForProgram(taker, env.mintA, token.ProgramKey)
	require.NoError(t, err)

	return env
}

func (e *testEnv) makeOfferArgs(strategy escrow.Strategy, id uint64) *MakeOfferArgs {
	return &MakeOfferArgs{
		Strategy:            strategy,
		Maker:               e.maker,
		TokenMintA:          e.mintA,
		TokenMintB:          e.mintB,
		Id:                  id,
		TokenAOfferedAmount: offeredAmount,
		TokenBWantedAmount:  wantedAmount,
	}
}

// flakyHost reports accounts as locked for the first failures submissions.
type flakyHost struct {
	*runtime.Runtime

	failures uint64
	calls    uint64
}

func (h *flakyHost) ProcessTransaction(ctx context.Context, txn solana.Transaction) (*runtime.ExecutionResult, error) {
	if atomic.AddUint64(&h.calls, 1) <= h.failures {
		return &runtime.ExecutionResult{}, solana.NewTransactionError(solana.TransactionErrorAccountInUse)
	}
	return h.Runtime.ProcessTransaction(ctx, txn)
}

func TestClient_MakeAndTakeOffer(t *testing.T) {
	for _, strategy := range []escrow.Strategy{escrow.StrategyVault, escrow.StrategyApprove} {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			env := setup(t, nil, &TestOverrides{})

			offerAddress, result, err := env.client.MakeOffer(ctx, env.makeOfferArgs(strategy, 7))
			require.NoError(t, err)
			require.NotNil(t, result)

			expected, _, err := escrow.GetOfferAddress(&escrow.GetOfferAddressArgs{
				Strategy: strategy,
				Maker:    testutil.PublicKey(env.maker),
				Id:       7,
			})
			require.NoError(t, err)
			assert.EqualValues(t, expected, offerAddress)

			offer, actualStrategy, err := env.client.GetOffer(ctx, offerAddress)
			require.NoError(t, err)
			assert.Equal(t, strategy, actualStrategy)
			assert.EqualValues(t, 7, offer.Id)
			assert.EqualValues(t, testutil.PublicKey(env.maker), offer.Maker)
			assert.EqualValues(t, env.mintA, offer.TokenMintA)
			assert.EqualValues(t, env.mintB, offer.TokenMintB)
			assert.EqualValues(t, offeredAmount, offer.TokenAOfferedAmount)
			assert.EqualValues(t, wantedAmount, offer.TokenBWantedAmount)

			_, err = env.client.TakeOffer(ctx, &TakeOfferArgs{
				Taker: env.taker,
				Offer: offerAddress,
			})
			require.NoError(t, err)

			assert.EqualValues(t, 0, env.TokenBalance(t, env.makerTokenAccountA))
			assert.EqualValues(t, offeredAmount, env.TokenBalance(t, env.takerTokenAccountA))
			assert.EqualValues(t, 0, env.TokenBalance(t, env.takerTokenAccountB))
			assert.EqualValues(t, wantedAmount, env.TokenBalance(t, env.makerTokenAccountB))

			_, _, err = env.client.GetOffer(ctx, offerAddress)
			assert.Equal(t, escrow.ErrOfferNotFound, err)

			_, err = env.client.TakeOffer(ctx, &TakeOfferArgs{
				Taker: env.taker,
				Offer: offerAddress,
			})
			assert.Equal(t, escrow.ErrOfferNotFound, err)
		})
	}
}

func TestClient_SeparatePayer(t *testing.T) {
	ctx := context.Background()
	env := setup(t, nil, &TestOverrides{})

	args := env.makeOfferArgs(escrow.StrategyVault, 1)
	args.Payer = env.Subsidizer

	_, result, err := env.client.MakeOffer(ctx, args)
	require.NoError(t, err)
	assert.True(t, result.Fee > 0)
}

func TestClient_ClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	env := setup(t, nil, &TestOverrides{})

	_, _, err := env.client.MakeOffer(ctx, env.makeOfferArgs(escrow.StrategyVault, 1))
	require.NoError(t, err)

	// Differing amounts keep the transaction distinct from the first
	args := env.makeOfferArgs(escrow.StrategyVault, 1)
	args.TokenBWantedAmount++
	_, _, err = env.client.MakeOffer(ctx, args)
	assert.True(t, errors.Is(err, escrow.ErrOfferAlreadyExists))

	args = env.makeOfferArgs(escrow.StrategyApprove, 2)
	args.TokenAOfferedAmount = 0
	_, _, err = env.client.MakeOffer(ctx, args)
	assert.True(t, errors.Is(err, escrow.ErrInvalidAmount))

	args = env.makeOfferArgs(escrow.StrategyApprove, 3)
	args.TokenAOfferedAmount = offeredAmount + 1
	_, _, err = env.client.MakeOffer(ctx, args)
	assert.True(t, errors.Is(err, escrow.ErrInsufficientBalance))
}

func TestClient_GetOffer(t *testing.T) {
	ctx := context.Background()
	env := setup(t, nil, &TestOverrides{})

	_, _, err := env.client.GetOffer(ctx, testutil.GenerateSolanaKeys(t, 1)[0])
	assert.Equal(t, escrow.ErrOfferNotFound, err)

	_, _, err = env.client.GetOffer(ctx, env.mintA)
	assert.Equal(t, ErrInvalidOffer, err)
}

func TestClient_RetriesLockedAccounts(t *testing.T) {
	ctx := context.Background()

	var host *flakyHost
	env := setup(t, func(rt *runtime.Runtime) Host {
		host = &flakyHost{Runtime: rt, failures: 2}
		return host
	}, &TestOverrides{})

	_, _, err := env.client.MakeOffer(ctx, env.makeOfferArgs(escrow.StrategyApprove, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadUint64(&host.calls))
}

func TestClient_RetryLimit(t *testing.T) {
	ctx := context.Background()

	var host *flakyHost
	env := setup(t, func(rt *runtime.Runtime) Host {
		host = &flakyHost{Runtime: rt, failures: 10}
		return host
	}, &TestOverrides{MaxSubmitAttempts: 3})

	_, _, err := env.client.MakeOffer(ctx, env.makeOfferArgs(escrow.StrategyApprove, 1))
	assert.True(t, errors.Is(err, solana.TransactionErrorAccountInUse))
	assert.EqualValues(t, 3, atomic.LoadUint64(&host.calls))
}

func TestClient_AddressCache(t *testing.T) {
	env := setup(t, nil, &TestOverrides{AddressCacheBudget: 2})
	maker := testutil.PublicKey(env.maker)

	for i := 0; i < 3; i++ {
		for id := uint64(0); id < 4; id++ {
			address, bump, err := env.client.GetOfferAddress(escrow.StrategyVault, maker, id)
			require.NoError(t, err)

			expected, expectedBump, err := escrow.GetOfferAddress(&escrow.GetOfferAddressArgs{
				Strategy: escrow.StrategyVault,
				Maker:    maker,
				Id:       id,
			})
			require.NoError(t, err)
			assert.EqualValues(t, expected, address)
			assert.Equal(t, expectedBump, bump)
		}
	}
	assert.True(t, env.client.addresses.GetWeight() <= 2)
}

func TestClient_SubmitRateLimit(t *testing.T) {
	env := setup(t, nil, &TestOverrides{SubmitRateLimit: 1})

	_, _, err := env.client.MakeOffer(context.Background(), env.makeOfferArgs(escrow.StrategyVault, 1))
	require.NoError(t, err)

	// The maker's next submission slot is a second away
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err = env.client.MakeOffer(ctx, env.makeOfferArgs(escrow.StrategyVault, 2))
	assert.Error(t, err)

	// Takers are limited independently
	_, err = env.client.TakeOffer(context.Background(), &TakeOfferArgs{
		Taker: env.taker,
		Offer: mustOfferAddress(t, env, escrow.StrategyVault, 1),
	})
	require.NoError(t, err)
}

func mustOfferAddress(t *testing.T, env *testEnv, strategy escrow.Strategy, id uint64) ed25519.PublicKey {
	address, _, err := env.client.GetOfferAddress(strategy, testutil.PublicKey(env.maker), id)
	require.NoError(t, err)
	return address
}
