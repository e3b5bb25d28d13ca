package escrow

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOfferAddress(t *testing.T) {
	maker := mustBase58Decode("4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw")

	for _, tc := range []struct {
		strategy Strategy
		id       uint64
		address  string
		bump     uint8
	}{
		{StrategyVault, 1, "Cr4yArBiLv3CeEuLB7EsG1kLmKP3wakP2WCGTPBK3kPc", 255},
		{StrategyVault, 42, "Dyhb4nrziSqVVgjsqirTuBTWXTL26RTmQe5q3ognELFu", 255},
		{StrategyApprove, 1, "ENLQ9z23XwNDHTxXr9UpZu25W3KuyRvmQrQ9B3VD2Knu", 255},
		{StrategyApprove, 42, "6y2EAixhsZMbpMsz8PhP634boSj8AE8aSoyj5JEhwbmv", 254},
	} {
		address, bump, err := GetOfferAddress(&GetOfferAddressArgs{
			Strategy: tc.strategy,
			Maker:    maker,
			Id:       tc.id,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.address, base58.Encode(address))
		assert.Equal(t, tc.bump, bump)
	}
}

func TestGetVaultAddress(t *testing.T) {
	offer := mustBase58Decode("Cr4yArBiLv3CeEuLB7EsG1kLmKP3wakP2WCGTPBK3kPc")
	mint := mustBase58Decode("7kuT1dfMhUysWcLEV1eYk8ir7RTjszHmsUdrrPQNThcv")

	address, bump, err := GetVaultAddress(&GetVaultAddressArgs{
		Offer:        offer,
		Mint:         mint,
		TokenProgram: SPL_TOKEN_PROGRAM_ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "GsrJrKEA1m8QxsL7BV7KHLabLumtgt33jHpw8Q5zTYW6", base58.Encode(address))
	assert.EqualValues(t, 253, bump)

	address, _, err = GetVaultAddress(&GetVaultAddressArgs{
		Offer:        offer,
		Mint:         mint,
		TokenProgram: SPL_TOKEN_2022_PROGRAM_ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "5nb4JvxtsnjEFsRQcdfKaeJu39AstAUTPyi6TRfL8VtD", base58.Encode(address))
}

func TestStrategyFromProgramID(t *testing.T) {
	strategy, err := StrategyFromProgramID(VAULT_PROGRAM_ID)
	require.NoError(t, err)
	assert.Equal(t, StrategyVault, strategy)

	strategy, err = StrategyFromProgramID(APPROVE_PROGRAM_ID)
	require.NoError(t, err)
	assert.Equal(t, StrategyApprove, strategy)

	_, err = StrategyFromProgramID(SYSTEM_PROGRAM_ID)
	assert.Equal(t, ErrInvalidProgram, err)
}
