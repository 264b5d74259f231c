package rsyncchecksum_test

import (
	"math/rand"
	"testing"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/stretchr/testify/require"
)

func TestRollingChecksumRollEqualsFreshAfterKRolls(t *testing.T) {
	src := make([]byte, 4096)
	rng := rand.New(rand.NewSource(1))
	rng.Read(src)

	const windowLen = 128
	r := rsyncchecksum.New(src[:windowLen])

	for k := 1; k+windowLen <= len(src); k++ {
		require.NoError(t, r.Roll(src[k-1], src[k+windowLen-1]))
		fresh := rsyncchecksum.New(src[k : k+windowLen])
		require.Equalf(t, fresh.Value(), r.Value(), "mismatch after %d rolls", k)
	}
}

func TestRollingChecksumRollManyMatchesRepeatedRoll(t *testing.T) {
	src := make([]byte, 2048)
	rng := rand.New(rand.NewSource(2))
	rng.Read(src)

	const windowLen = 64
	const batch = 16

	single := rsyncchecksum.New(src[:windowLen])
	many := rsyncchecksum.New(src[:windowLen])

	for start := windowLen; start+batch <= len(src); start += batch {
		outgoing := src[start-windowLen : start-windowLen+batch]
		incoming := src[start : start+batch]
		require.NoError(t, many.RollMany(outgoing, incoming))
		for i := 0; i < batch; i++ {
			require.NoError(t, single.Roll(src[start-windowLen+i], src[start+i]))
		}
		require.Equal(t, single.Value(), many.Value())
	}
}

func TestRollingChecksumEmptyWindowRollErrors(t *testing.T) {
	var r rsyncchecksum.RollingChecksum
	err := r.Roll(0, 1)
	require.Error(t, err)
	var rerr *rsyncchecksum.RollingError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rsyncchecksum.ErrEmptyWindow, rerr.Kind)
}

func TestRollingChecksumRollManyLengthMismatch(t *testing.T) {
	r := rsyncchecksum.New([]byte("abcdefgh"))
	err := r.RollMany([]byte{1, 2}, []byte{1})
	require.Error(t, err)
	var rerr *rsyncchecksum.RollingError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rsyncchecksum.ErrMismatchedSliceLength, rerr.Kind)
}

func TestRollingChecksumDigestRoundTrip(t *testing.T) {
	window := []byte("the quick brown fox jumps over the lazy dog")
	r := rsyncchecksum.New(window)
	d := r.Digest()
	reconstructed := (uint32(d.S2) << 16) | uint32(d.S1)
	require.Equal(t, r.Value(), reconstructed)
	require.EqualValues(t, len(window), d.Len)
}

func TestStrongHasherMD5SeedOrderingDiffers(t *testing.T) {
	data := []byte("block contents")
	seed := []byte{1, 2, 3, 4}

	before := rsyncchecksum.NewStrongHasher(rsyncchecksum.MD5, seed, rsyncchecksum.SeedBeforeData)
	after := rsyncchecksum.NewStrongHasher(rsyncchecksum.MD5, seed, rsyncchecksum.SeedAfterData)

	require.NotEqual(t, before.Sum(data), after.Sum(data))
}

func TestStrongHasherSizes(t *testing.T) {
	cases := map[rsyncchecksum.Algorithm]int{
		rsyncchecksum.MD4:      16,
		rsyncchecksum.MD5:      16,
		rsyncchecksum.SHA1:     20,
		rsyncchecksum.XXH64:    8,
		rsyncchecksum.XXH3:     8,
		rsyncchecksum.XXH3_128: 16,
	}
	for algo, size := range cases {
		h := rsyncchecksum.NewStrongHasher(algo, nil, rsyncchecksum.SeedBeforeData)
		require.Len(t, h.Sum([]byte("payload")), size, algo.String())
		require.Equal(t, size, algo.Size(), algo.String())
	}
}

func TestDefaultAlgorithmByProtocolVersion(t *testing.T) {
	algo, _ := rsyncchecksum.DefaultAlgorithm(29)
	require.Equal(t, rsyncchecksum.MD4, algo)
	algo, ordering := rsyncchecksum.DefaultAlgorithm(31)
	require.Equal(t, rsyncchecksum.MD5, algo)
	require.Equal(t, rsyncchecksum.SeedAfterData, ordering, "absent CompatChecksumSeedFix, MD5 must use the legacy seed-after-data ordering")
}

func TestSelectAlgorithmHonorsCompatChecksumSeedFix(t *testing.T) {
	algo, ordering := rsyncchecksum.SelectAlgorithm(31, 0)
	require.Equal(t, rsyncchecksum.MD5, algo)
	require.Equal(t, rsyncchecksum.SeedAfterData, ordering)

	algo, ordering = rsyncchecksum.SelectAlgorithm(31, rsync.CompatChecksumSeedFix)
	require.Equal(t, rsyncchecksum.MD5, algo)
	require.Equal(t, rsyncchecksum.SeedBeforeData, ordering)

	// The flag only changes MD5's ordering: below protocol 30 the MD4
	// default ordering is returned whatever the flags say.
	algo, ordering = rsyncchecksum.SelectAlgorithm(29, rsync.CompatChecksumSeedFix)
	require.Equal(t, rsyncchecksum.MD4, algo)
	require.Equal(t, rsyncchecksum.SeedBeforeData, ordering)
}
