package repositories

import (
	"encoding/binary"
	"fmt"

	"chatwire/domain"
)

// Key layout. Conversation identifiers and message sequence numbers are
// zero padded so lexicographic key order equals numeric order:
//
//	user:{uuid}                     -> UserRecord
//	handle:{lowercased handle}      -> user id
//	conv:{conv 011d}                -> ConversationRecord
//	part:{conv 011d}:{user id}      -> participant marker
//	member:{user id}:{conv 011d}    -> membership index
//	pair:{lo user id}:{hi user id}  -> conv id (direct pair uniqueness)
//	msg:{conv 011d}:{seq 019d}      -> MessageRecord
//	msgseq:{conv 011d}              -> last assigned sequence
//	convseq                         -> last assigned conversation id
const (
	convSeqKey = "convseq"
	maxSeqPad  = "9999999999999999999"
)

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func handleKey(handle string) []byte {
	return []byte("handle:" + handle)
}

func convKey(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("conv:%011d", id))
}

func partPrefix(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("part:%011d:", id))
}

func partKey(id domain.ConversationID, userID string) []byte {
	return append(partPrefix(id), userID...)
}

func memberPrefix(userID string) []byte {
	return []byte("member:" + userID + ":")
}

func memberKey(userID string, id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("member:%s:%011d", userID, id))
}

func pairKey(userA, userB string) []byte {
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	return []byte("pair:" + lo + ":" + hi)
}

func msgPrefix(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("msg:%011d:", id))
}

func msgKey(id domain.ConversationID, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%011d:%019d", id, seq))
}

func msgSeqKey(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("msgseq:%011d", id))
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// decodeUint64 rejects malformed counter values instead of reading them
// as zero, which would silently restart a sequence.
func decodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("counter value has %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
