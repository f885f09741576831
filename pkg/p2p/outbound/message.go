package outbound

import "fmt"

// Kind tags each Payload variant. Values are part of the wire format and must
// not be renumbered.
type Kind uint8

const (
	KindBlock Kind = iota + 1
	KindGetBlocks
	KindGetMemoryPool
	KindMemoryPool
	KindGetPeers
	KindPeers
	KindPing
	KindPong
	KindGetSync
	KindSync
	KindSyncBlock
	KindTransaction
)

var kindNames = map[Kind]string{
	KindBlock:         "block",
	KindGetBlocks:     "getblocks",
	KindGetMemoryPool: "getmemorypool",
	KindMemoryPool:    "memorypool",
	KindGetPeers:      "getpeers",
	KindPeers:         "peers",
	KindPing:          "ping",
	KindPong:          "pong",
	KindGetSync:       "getsync",
	KindSync:          "sync",
	KindSyncBlock:     "syncblock",
	KindTransaction:   "transaction",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a known payload variant.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// BlockHash is a block header hash as carried by sync requests.
type BlockHash [32]byte

// Payload is one protocol message body.
type Payload interface {
	Kind() Kind
}

type Block struct {
	Data []byte `cbor:"1,keyasint"`
}

type GetBlocks struct {
	Hashes []BlockHash `cbor:"1,keyasint"`
}

type GetMemoryPool struct{}

type MemoryPool struct {
	Transactions [][]byte `cbor:"1,keyasint"`
}

type GetPeers struct{}

type Peers struct {
	Addresses []PeerAddress `cbor:"1,keyasint"`
}

// Ping carries the sender's current chain height.
type Ping struct {
	Height uint64 `cbor:"1,keyasint"`
}

type Pong struct{}

type GetSync struct {
	Hashes []BlockHash `cbor:"1,keyasint"`
}

type Sync struct {
	Hashes []BlockHash `cbor:"1,keyasint"`
}

type SyncBlock struct {
	Data []byte `cbor:"1,keyasint"`
}

type Transaction struct {
	Data []byte `cbor:"1,keyasint"`
}

func (Block) Kind() Kind         { return KindBlock }
func (GetBlocks) Kind() Kind     { return KindGetBlocks }
func (GetMemoryPool) Kind() Kind { return KindGetMemoryPool }
func (MemoryPool) Kind() Kind    { return KindMemoryPool }
func (GetPeers) Kind() Kind      { return KindGetPeers }
func (Peers) Kind() Kind         { return KindPeers }
func (Ping) Kind() Kind          { return KindPing }
func (Pong) Kind() Kind          { return KindPong }
func (GetSync) Kind() Kind       { return KindGetSync }
func (Sync) Kind() Kind          { return KindSync }
func (SyncBlock) Kind() Kind     { return KindSyncBlock }
func (Transaction) Kind() Kind   { return KindTransaction }

// DirectionKind says whether a message travels to or from the peer.
type DirectionKind uint8

const (
	DirectionOutbound DirectionKind = iota
	DirectionInbound
)

// Direction pairs a DirectionKind with the remote peer.
type Direction struct {
	Kind DirectionKind
	Addr PeerAddress
}

// Outgoing addresses a message to addr.
func Outgoing(addr PeerAddress) Direction {
	return Direction{Kind: DirectionOutbound, Addr: addr}
}

// Incoming marks a message as received from addr.
func Incoming(addr PeerAddress) Direction {
	return Direction{Kind: DirectionInbound, Addr: addr}
}

// Message is the envelope handed to the dispatcher. It is a plain value and
// is built fresh for each send.
type Message struct {
	Direction Direction
	Payload   Payload
}

func NewMessage(dir Direction, payload Payload) Message {
	return Message{Direction: dir, Payload: payload}
}

// Receiver returns the destination of an outbound message. ok is false for
// inbound messages, which have no receiver on this node's side.
func (m Message) Receiver() (addr PeerAddress, ok bool) {
	if m.Direction.Kind != DirectionOutbound {
		return PeerAddress{}, false
	}
	return m.Direction.Addr, true
}

// PayloadKind is nil-safe; a message without payload reports kind 0.
func (m Message) PayloadKind() Kind {
	if m.Payload == nil {
		return 0
	}
	return m.Payload.Kind()
}

func (m Message) String() string {
	return m.PayloadKind().String()
}
