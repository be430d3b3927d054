package api

// Entry is an artwork submitted to the contest.
type Entry struct {
	ID          uint64 `json:"id"`
	Contestant  string `json:"contestant"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// DescriptionHash and FileHash are content identifiers.
	DescriptionHash string   `json:"descriptionHash"`
	FileHash        string   `json:"fileHash"`
	ImageURL        string   `json:"imageUrl"`
	Tags            []string `json:"tags"`
	Categories      []string `json:"categories"`
	Timestamp       Time     `json:"timestamp"`
	// ScoresHandle is the hex handle of the encrypted score counter, empty
	// until the entry has been scored.
	ScoresHandle string `json:"scoresHandle,omitempty"`
}

// CategoryVotes is the encrypted vote counter of one category of an entry.
type CategoryVotes struct {
	Category string `json:"category"`
	// Present is false while nobody has voted in the category. Handle is
	// empty in that case.
	Present bool   `json:"present"`
	Handle  string `json:"handle,omitempty"`
	// Votes is only set once the counter has been decrypted.
	Votes *uint64 `json:"votes,omitempty"`
}

// Submitted is the outcome of a submission.
type Submitted struct {
	EntryID         uint64 `json:"entryId"`
	TxHash          string `json:"txHash"`
	DescriptionHash string `json:"descriptionHash"`
	FileHash        string `json:"fileHash"`
	ImageURL        string `json:"imageUrl"`
}

// Transaction is the outcome of a score or vote.
type Transaction struct {
	EntryID  uint64 `json:"entryId"`
	Category string `json:"category,omitempty"`
	TxHash   string `json:"txHash"`
}

// EncryptedInput is an encrypted batch ready to be passed to a contract.
type EncryptedInput struct {
	Handles []string `json:"handles"`
	// Proof is 0x-prefixed hex.
	Proof string `json:"inputProof"`
}
