package store

import (
	"maps"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ttlAttr holds the epoch second at which DynamoDB expires a record. Soft
// deletes set it to the deletion time, so a record reads as absent from then on.
const ttlAttr = "ttl"

// IsDeleted reports whether item was soft-deleted: its ttl is at or before now.
// Records without a numeric ttl are live.
func IsDeleted(item map[string]types.AttributeValue) bool {
	return isDeletedAt(item, time.Now())
}

func isDeletedAt(item map[string]types.AttributeValue, now time.Time) bool {
	n, ok := item[ttlAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	expiry, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && expiry <= now.Unix()
}

// TTLFilterExpr is the Query/Scan filter keeping only live records. Use it with
// TTLFilterNames and TTLFilterValues.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames binds #ttl in TTLFilterExpr.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": ttlAttr}
}

// TTLFilterValues binds :now in TTLFilterExpr to the current epoch second.
func TTLFilterValues() map[string]types.AttributeValue {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]types.AttributeValue{":now": &types.AttributeValueMemberN{Value: now}}
}

// mergeExprNames combines placeholder maps; later maps win on clashes.
func mergeExprNames(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range sets {
		maps.Copy(out, m)
	}
	return out
}

func mergeExprValues(sets ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue)
	for _, m := range sets {
		maps.Copy(out, m)
	}
	return out
}
