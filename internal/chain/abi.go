package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContestABI is the interface of the deployed ArtContest contract.
const ContestABI = `[
  {"type":"event","name":"EntrySubmitted","anonymous":false,"inputs":[
    {"name":"entryId","type":"uint256","indexed":true},
    {"name":"contestant","type":"address","indexed":true},
    {"name":"title","type":"string","indexed":false}]},
  {"type":"event","name":"EntryScored","anonymous":false,"inputs":[
    {"name":"entryId","type":"uint256","indexed":true},
    {"name":"judge","type":"address","indexed":true}]},
  {"type":"event","name":"EntryVoted","anonymous":false,"inputs":[
    {"name":"entryId","type":"uint256","indexed":true},
    {"name":"judge","type":"address","indexed":true},
    {"name":"category","type":"string","indexed":false}]},
  {"type":"function","name":"nextEntryId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getEntry","stateMutability":"view",
   "inputs":[{"name":"entryId","type":"uint256"}],
   "outputs":[
    {"name":"id","type":"uint256"},
    {"name":"contestant","type":"address"},
    {"name":"title","type":"string"},
    {"name":"descriptionHash","type":"string"},
    {"name":"fileHash","type":"string"},
    {"name":"tags","type":"string[]"},
    {"name":"categories","type":"string[]"},
    {"name":"timestamp","type":"uint64"},
    {"name":"scoresHandle","type":"uint256"}]},
  {"type":"function","name":"getAllEntries","stateMutability":"view","inputs":[],
   "outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getCategoryVotes","stateMutability":"view",
   "inputs":[{"name":"entryId","type":"uint256"},{"name":"category","type":"string"}],
   "outputs":[{"name":"votesHandle","type":"uint256"}]},
  {"type":"function","name":"submitEntry","stateMutability":"nonpayable",
   "inputs":[
    {"name":"title","type":"string"},
    {"name":"descriptionHash","type":"string"},
    {"name":"fileHash","type":"string"},
    {"name":"tags","type":"string[]"},
    {"name":"categories","type":"string[]"}],
   "outputs":[{"name":"entryId","type":"uint256"}]},
  {"type":"function","name":"scoreEntry","stateMutability":"nonpayable",
   "inputs":[{"name":"entryId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"voteEntry","stateMutability":"nonpayable",
   "inputs":[{"name":"entryId","type":"uint256"},{"name":"category","type":"string"}],"outputs":[]}
]`

var contestABI = mustParseABI(ContestABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: invalid contest ABI: " + err.Error())
	}
	return parsed
}
