package domain

// TransactionHash is a 0x-prefixed transaction hash.
type TransactionHash struct {
	Value string `json:"value"`
}

// AlgorithmTransaction is the outstanding transaction of a lock.
type AlgorithmTransaction struct {
	AlgorithmID     AlgorithmID     `json:"algorithm_id"`
	TransactionHash TransactionHash `json:"transaction_hash"`
}

// AlgorithmLock names a lock on (algorithm, symbol).
type AlgorithmLock struct {
	AlgorithmID AlgorithmID `json:"algorithm_id"`
	Symbol      string      `json:"symbol"`
}

// LockResult is the outcome of a lock attempt. When Acquired is false the lock is held by
// someone else and TransactionHash is its last recorded transaction, if any.
type LockResult struct {
	Lock            AlgorithmLock
	Acquired        bool
	TransactionHash *TransactionHash
}

func NewLock(id AlgorithmID, symbol string) LockResult {
	return LockResult{Lock: AlgorithmLock{AlgorithmID: id, Symbol: symbol}, Acquired: true}
}

func HeldLock(id AlgorithmID, symbol string, hash *TransactionHash) LockResult {
	return LockResult{Lock: AlgorithmLock{AlgorithmID: id, Symbol: symbol}, TransactionHash: hash}
}

// WasLocked converts a held lock into the trade response.
func (r LockResult) WasLocked() AlgorithmWasLocked {
	return AlgorithmWasLocked{Lock: r.Lock, TransactionHash: r.TransactionHash, LockType: LockTypeWasLocked}
}

type LockType string

const (
	LockTypeNowLocked LockType = "SUCCESS:ALGORITHM-IS-NOW-LOCKED"
	LockTypeWasLocked LockType = "DENIED:ALGORITHM-ALREADY-LOCKED"
)

// TradeResponse is one of AlgorithmIsLocked, AlgorithmWasLocked, InsufficientFunds
// or BlockChainError.
type TradeResponse interface {
	tradeResponse()
}

type AlgorithmIsLocked struct {
	Lock            AlgorithmLock   `json:"lock"`
	TransactionHash TransactionHash `json:"transaction_hash"`
	LockType        LockType        `json:"lock_type"`
}

type AlgorithmWasLocked struct {
	Lock            AlgorithmLock    `json:"lock"`
	TransactionHash *TransactionHash `json:"transaction_hash"`
	LockType        LockType         `json:"lock_type"`
}

type InsufficientFunds struct {
	AlgorithmID AlgorithmID `json:"algorithm_id"`
	Reason      string      `json:"reason"`
}

type BlockChainError struct {
	AlgorithmID AlgorithmID `json:"algorithm_id"`
	Reason      string      `json:"reason"`
	Error       string      `json:"error"`
}

func NewAlgorithmIsLocked(lock AlgorithmLock, hash TransactionHash) AlgorithmIsLocked {
	return AlgorithmIsLocked{Lock: lock, TransactionHash: hash, LockType: LockTypeNowLocked}
}

func NewInsufficientFunds(id AlgorithmID) InsufficientFunds {
	return InsufficientFunds{AlgorithmID: id, Reason: "Not enough funds in algorithm contract to trade."}
}

func NewBlockChainError(id AlgorithmID, err error) BlockChainError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return BlockChainError{AlgorithmID: id, Reason: "Blockchain error occurred.", Error: msg}
}

func (AlgorithmIsLocked) tradeResponse()  {}
func (AlgorithmWasLocked) tradeResponse() {}
func (InsufficientFunds) tradeResponse()  {}
func (BlockChainError) tradeResponse()    {}
