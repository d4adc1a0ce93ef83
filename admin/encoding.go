package admin

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// CanonicalEncode produces the stable, fixed-field-order serialisation of a
// circuit, used for hashing (see CircuitHash).
// It is deliberately not JSON: map/slice field ordering in JSON is only as
// stable as struct definition order, and this format makes the order
// load-bearing and explicit rather than incidental.
func CanonicalEncode(c *Circuit) []byte {
	var buf bytes.Buffer
	writeString(&buf, c.CircuitID)
	writeUint32(&buf, uint32(len(c.Members)))
	for _, m := range c.Members {
		writeString(&buf, m.NodeID)
		writeUint32(&buf, uint32(len(m.Endpoints)))
		for _, ep := range m.Endpoints {
			writeString(&buf, ep)
		}
	}
	writeUint32(&buf, uint32(len(c.Roster)))
	for _, s := range c.Roster {
		writeString(&buf, s.ServiceID)
		writeString(&buf, s.ServiceType)
		writeUint32(&buf, uint32(len(s.AllowedNodes)))
		for _, n := range s.AllowedNodes {
			writeString(&buf, n)
		}
		writeUint32(&buf, uint32(len(s.Arguments)))
		for _, a := range s.Arguments {
			writeString(&buf, a.Key)
			writeString(&buf, a.Value)
		}
	}
	writeString(&buf, string(c.AuthorizationType))
	writeString(&buf, string(c.Persistence))
	writeString(&buf, string(c.Durability))
	writeString(&buf, string(c.Routes))
	writeString(&buf, c.ManagementType)
	writeString(&buf, c.DisplayName)
	writeString(&buf, c.Comments)
	writeUint32(&buf, uint32(len(c.ApplicationMetadata)))
	buf.Write(c.ApplicationMetadata)
	writeUint32(&buf, uint32(c.CircuitVersion))
	writeString(&buf, string(c.CircuitStatus))
	return buf.Bytes()
}

// CircuitHash returns the hex-encoded SHA-256 digest of the circuit's
// canonical encoding.
func CircuitHash(c *Circuit) string {
	sum := sha256.Sum256(CanonicalEncode(c))
	return hex.EncodeToString(sum[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
