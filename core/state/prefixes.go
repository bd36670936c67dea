package state

// Raw key prefixes for the logical tables kept in the KV database. Every
// concrete key is the keccak hash of prefix plus the record identifier, so
// table layouts can never collide regardless of identifier contents.
var (
	escrowRecordPrefix  = []byte("escrow/record/")
	escrowCounterKey    = []byte("escrow/counter")
	escrowResultsPrefix = []byte("escrow/results/")
	escrowTrustPrefix   = []byte("escrow/trust/")
	escrowTrustListPref = []byte("escrow/trustlist/")
	escrowFactoryPrefix = []byte("escrow/factory/")
	accountPrefix       = []byte("ledger/account/")
	totalSupplyKey      = []byte("ledger/supply")
	kvEntryPrefix       = []byte("kvstore/entry/")
)
