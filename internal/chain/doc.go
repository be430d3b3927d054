// Package chain talks to the art contest contract.
//
// Client binds the deployed contract through go-ethereum. MemoryContest
// applies the same rules in memory and backs the tests of every layer above
// this one; MockRPCServer exposes a MemoryContest over JSON-RPC so Client can
// be exercised end to end.
package chain
