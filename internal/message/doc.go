// Package message defines the envelope carried by every frame on the realtime
// connection.
//
// Wire shape (one JSON object per frame):
//
//	{"type": "metrics", "data": {...}, "timestamp": 1705328200000, "id": "6f1c..."}
//
// The type field is the routing key. The transport never interprets data;
// consumers decode it per channel with DecodeData.
package message
