package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Expired reports whether a cache item's TTL has passed at now. DynamoDB
// removes expired items lazily, so reads filter them out themselves. Items
// without a readable TTL never expire.
func Expired(item map[string]types.AttributeValue, now time.Time) bool {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	at, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return at <= now.Unix()
}

// expiry returns the TTL attribute for an item that should live for ttl.
// DynamoDB TTLs have second granularity; partial seconds round up.
func expiry(now time.Time, ttl time.Duration) *types.AttributeValueMemberN {
	at := now.Add(ttl)
	secs := at.Unix()
	if at.Nanosecond() > 0 {
		secs++
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(secs, 10)}
}
