package cursor

import (
	"context"
	"testing"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "cursor.accounts.", Key(domain.ResourceAccounts, ""))
	assert.Equal(t, "cursor.balances.acc-1", Key(domain.ResourceBalances, "acc-1"))
	assert.Equal(t, "cursor.transactions.acc-1", Key(domain.ResourceTransactions, "acc-1"))
}

func TestStoreGetSetClear(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := NewStore(backing)

	c, err := s.Get(ctx, domain.ResourceBalances, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	// arbitrary bytes, including ones that are not valid UTF-8 or JSON
	token := domain.Cursor{0xff, 0x00, '{', 0x7f}
	require.NoError(t, s.Set(ctx, domain.ResourceBalances, "acc-1", token))

	raw, err := backing.Get(ctx, "cursor.balances.acc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(token), raw)

	c, err = s.Get(ctx, domain.ResourceBalances, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, token, c)

	// scopes and kinds are independent
	c, err = s.Get(ctx, domain.ResourceTransactions, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, s.Clear(ctx, domain.ResourceBalances, "acc-1"))
	c, err = s.Get(ctx, domain.ResourceBalances, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := NewStore(backing)

	require.NoError(t, s.Set(ctx, domain.ResourceAccounts, "", domain.Cursor("a")))
	require.NoError(t, s.Set(ctx, domain.ResourceTransactions, "acc-2", domain.Cursor("t")))
	require.NoError(t, backing.Put(ctx, "cursor.unknown.x", []byte("ignored")))
	require.NoError(t, backing.Put(ctx, "collections.accounts", []byte("[]")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Kind: domain.ResourceAccounts, Scope: "", Cursor: domain.Cursor("a")}, entries[0])
	assert.Equal(t, Entry{Kind: domain.ResourceTransactions, Scope: "acc-2", Cursor: domain.Cursor("t")}, entries[1])
}
