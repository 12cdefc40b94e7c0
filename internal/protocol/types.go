package protocol

import "sort"

// Method is an uppercase token naming a message's semantic type.
type Method string

const (
	MethodCapability   Method = "CAPABILITY"
	MethodCharset      Method = "CHARSET"
	MethodPlainAuth    Method = "PLAINAUTH"
	MethodHeartbeat    Method = "HEARTBEAT"
	MethodBeat         Method = "BEAT"
	MethodSessionMode  Method = "SESSIONMODE"
	MethodNewSession   Method = "NEWSESSION"
	MethodSessions     Method = "SESSIONS"
	MethodQuit         Method = "QUIT"
	MethodOK           Method = "OK"
	MethodErr          Method = "ERR"
	MethodProduct      Method = "PRODUCT"
	MethodProducts     Method = "PRODUCTS"
	MethodPrice        Method = "PRICE"
	MethodPrices       Method = "PRICES"
	MethodPump         Method = "PUMP"
	MethodPumps        Method = "PUMPS"
	MethodPumpStatus   Method = "PUMPSTATUS"
	MethodTransaction  Method = "TRANSACTION"
	MethodTransactions Method = "TRANSACTIONS"
	MethodPan          Method = "PAN"
	MethodClear        Method = "CLEAR"
	MethodUnlockPump   Method = "UNLOCKPUMP"
	MethodLockPump     Method = "LOCKPUMP"
	MethodReceiptInfo  Method = "RECEIPTINFO"

	// Push extension, advertised only when the delegate implements it.
	MethodPush    Method = "PUSH"
	MethodPushing Method = "PUSHING"
)

// Charset is the only character set this client negotiates.
const Charset = "UTF-8"

var vocabulary = map[Method]struct{}{
	MethodCapability:   {},
	MethodCharset:      {},
	MethodPlainAuth:    {},
	MethodHeartbeat:    {},
	MethodBeat:         {},
	MethodSessionMode:  {},
	MethodNewSession:   {},
	MethodSessions:     {},
	MethodQuit:         {},
	MethodOK:           {},
	MethodErr:          {},
	MethodProduct:      {},
	MethodProducts:     {},
	MethodPrice:        {},
	MethodPrices:       {},
	MethodPump:         {},
	MethodPumps:        {},
	MethodPumpStatus:   {},
	MethodTransaction:  {},
	MethodTransactions: {},
	MethodPan:          {},
	MethodClear:        {},
	MethodUnlockPump:   {},
	MethodLockPump:     {},
	MethodReceiptInfo:  {},
	MethodPush:         {},
	MethodPushing:      {},
}

var broadcast = map[Method]struct{}{
	MethodPrice:       {},
	MethodProduct:     {},
	MethodPump:        {},
	MethodTransaction: {},
	MethodReceiptInfo: {},
}

// Known reports whether m belongs to the method vocabulary.
func (m Method) Known() bool {
	_, ok := vocabulary[m]
	return ok
}

// Terminal reports whether m closes out a pending correlation.
func (m Method) Terminal() bool {
	return m == MethodOK || m == MethodErr
}

// Broadcast reports whether m is a data message that may be pushed untagged.
func (m Method) Broadcast() bool {
	_, ok := broadcast[m]
	return ok
}

func (m Method) String() string {
	return string(m)
}

// Vocabulary returns every known method token in lexical order.
func Vocabulary() []Method {
	out := make([]Method, 0, len(vocabulary))
	for m := range vocabulary {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Message is one decoded protocol line without its tag.
type Message struct {
	Method Method
	Args   []string
}

// New builds a message from a method and its arguments.
func New(method Method, args ...string) Message {
	return Message{Method: method, Args: args}
}

// Broadcast reports whether the message may be sent untagged outside an exchange.
func (m Message) Broadcast() bool {
	return m.Method.Broadcast()
}

// Arg returns the i-th argument or "" when absent.
func (m Message) Arg(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}
	return m.Args[i]
}

// Equal compares method and arguments in order.
func (m Message) Equal(o Message) bool {
	if m.Method != o.Method || len(m.Args) != len(o.Args) {
		return false
	}
	for i := range m.Args {
		if m.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

func (m Message) String() string {
	s, err := Encode(m)
	if err != nil {
		return string(m.Method) + " <unencodable>"
	}
	return s
}
