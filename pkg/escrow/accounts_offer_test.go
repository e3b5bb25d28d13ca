package escrow

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAccount_Layout(t *testing.T) {
	offer := &OfferAccount{
		Id:                  7,
		Maker:               bytes.Repeat([]byte{1}, ed25519.PublicKeySize),
		TokenMintA:          bytes.Repeat([]byte{2}, ed25519.PublicKeySize),
		TokenMintB:          bytes.Repeat([]byte{3}, ed25519.PublicKeySize),
		TokenAOfferedAmount: 100_000_000_000,
		TokenBWantedAmount:  50_000_000_000,
		Bump:                254,
	}

	data := offer.Marshal()
	require.Len(t, data, 129)
	assert.Equal(t, OfferAccountDiscriminator, data[0:8])
	assert.EqualValues(t, 7, binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, []byte(offer.Maker), data[16:48])
	assert.Equal(t, []byte(offer.TokenMintA), data[48:80])
	assert.Equal(t, []byte(offer.TokenMintB), data[80:112])
	assert.EqualValues(t, 100_000_000_000, binary.LittleEndian.Uint64(data[112:120]))
	assert.EqualValues(t, 50_000_000_000, binary.LittleEndian.Uint64(data[120:128]))
	assert.EqualValues(t, 254, data[128])

	var decoded OfferAccount
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, offer, &decoded)
	assert.Contains(t, decoded.String(), "id=7")
}

func TestOfferAccount_InvalidData(t *testing.T) {
	var offer OfferAccount
	assert.Equal(t, ErrInvalidAccountData, offer.Unmarshal(make([]byte, OfferAccountSize-1)))
	assert.Equal(t, ErrInvalidAccountData, offer.Unmarshal(make([]byte, OfferAccountSize)))
}
