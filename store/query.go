package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynorm/datastore"
)

// keyOps are the operators DynamoDB accepts in a sort key condition.
var keyOps = map[datastore.Operator]string{
	datastore.Equal:          "=",
	datastore.LessThan:       "<",
	datastore.LessOrEqual:    "<=",
	datastore.GreaterThan:    ">",
	datastore.GreaterOrEqual: ">=",
}

// exprBuilder collects expression attribute placeholders.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byAttr map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{"#kind": attrKind},
		values: map[string]types.AttributeValue{},
		byAttr: map[string]string{attrKind: "#kind"},
	}
}

func (b *exprBuilder) name(attr string) string {
	if ph, ok := b.byAttr[attr]; ok {
		return ph
	}
	ph := fmt.Sprintf("#attr%d", len(b.byAttr))
	b.byAttr[attr] = ph
	b.names[ph] = attr
	return ph
}

func (b *exprBuilder) value(av types.AttributeValue) string {
	ph := fmt.Sprintf(":val%d", len(b.values))
	b.values[ph] = av
	return ph
}

func (b *exprBuilder) typeValue(t string) string {
	ph := ":type_" + t
	b.values[ph] = &types.AttributeValueMemberS{Value: t}
	return ph
}

// equality matches a scalar attribute equal to v or a list containing it.
func (b *exprBuilder) equality(attr string, v any) (string, error) {
	a := b.name(attr)
	if v == nil {
		return fmt.Sprintf("attribute_type(%s, %s)", a, b.typeValue("NULL")), nil
	}
	av, _, err := encodeScalar(v)
	if err != nil {
		return "", err
	}
	val := b.value(av)
	return fmt.Sprintf("(%s = %s OR (attribute_type(%s, %s) AND contains(%s, %s)))",
		a, val, a, b.typeValue("L"), a, val), nil
}

func (b *exprBuilder) filter(f datastore.Filter) (string, error) {
	attr := propertyAttr(f.Property)
	switch f.Op {
	case datastore.Equal:
		return b.equality(attr, f.Value)
	case datastore.In:
		candidates, _ := f.Value.([]any)
		var alternatives []string
		for _, c := range candidates {
			clause, err := b.equality(attr, c)
			if err != nil {
				return "", err
			}
			alternatives = append(alternatives, clause)
		}
		return "(" + joinStrings(alternatives, " OR ") + ")", nil
	}
	op, ok := keyOps[f.Op]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", f.Op)
	}
	av, _, err := encodeScalar(f.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", b.name(attr), op, b.value(av)), nil
}

// buildQuery translates q into a DynamoDB query over q's kind. The first
// usable key filter becomes a sort key condition; property filters become
// the filter expression. DynamoDB cannot filter on key attributes, so the
// remaining key filters, like every other filter, are re-checked in
// process by the iterator. ok is false when q can match nothing.
func (s *Store) buildQuery(q *datastore.Query) (input *dynamodb.QueryInput, ok bool, err error) {
	b := newExprBuilder()
	keyCond := "#kind = " + b.value(&types.AttributeValueMemberS{Value: q.Kind})

	var clauses []string
	keyBound := false
	propertyFilters := false
	for _, f := range q.Filters {
		if f.Property == datastore.KeyProperty {
			k, isKey := f.Value.(datastore.Key)
			op, sortable := keyOps[f.Op]
			if keyBound || !isKey || !sortable || k.Kind != q.Kind || k.Incomplete() {
				continue
			}
			keyCond += fmt.Sprintf(" AND %s %s %s", b.name(attrKey), op,
				b.value(&types.AttributeValueMemberS{Value: k.Encode()}))
			keyBound = true
			continue
		}
		propertyFilters = true
		if f.Op == datastore.In {
			if candidates, _ := f.Value.([]any); len(candidates) == 0 {
				return nil, false, nil
			}
		}
		clause, err := b.filter(f)
		if err != nil {
			return nil, false, err
		}
		clauses = append(clauses, clause)
	}

	input = &dynamodb.QueryInput{
		TableName:              aws.String(s.config.EntityTable),
		KeyConditionExpression: aws.String(keyCond),
		ConsistentRead:         aws.Bool(true),
		Limit:                  aws.Int32(s.config.PageSize),
	}
	if len(clauses) > 0 {
		input.FilterExpression = aws.String(joinStrings(clauses, " AND "))
	}
	if q.KeysOnly && !propertyFilters {
		input.ProjectionExpression = aws.String(b.name(attrKind) + ", " + b.name(attrKey))
	}
	if len(q.Orders) == 1 && q.Orders[0].Property == datastore.KeyProperty {
		input.ScanIndexForward = aws.Bool(!q.Orders[0].Descending)
	}
	input.ExpressionAttributeNames = b.names
	input.ExpressionAttributeValues = b.values
	return input, true, nil
}

// keyOrdered reports whether results come back from DynamoDB already in
// the order q asks for.
func keyOrdered(q *datastore.Query) bool {
	switch len(q.Orders) {
	case 0:
		return true
	case 1:
		return q.Orders[0].Property == datastore.KeyProperty
	}
	return false
}

// Run issues q. Key-ordered queries stream page by page; other orderings
// are materialised and sorted in process.
func (s *Store) Run(ctx context.Context, q *datastore.Query) (datastore.Iterator, error) {
	if keyOrdered(q) {
		return s.stream(ctx, q)
	}
	unordered := &datastore.Query{Kind: q.Kind, Filters: q.Filters}
	it, err := s.stream(ctx, unordered)
	if err != nil {
		return nil, err
	}
	all, err := drain(it)
	if err != nil {
		return nil, err
	}
	return datastore.NewSliceIterator(datastore.Evaluate(q, all)), nil
}

// Count returns the number of entities q would return. Unfiltered queries
// are counted by DynamoDB; others are counted as they stream.
func (s *Store) Count(ctx context.Context, q *datastore.Query) (int, error) {
	if len(q.Filters) == 0 && q.Offset == 0 && q.Limit == 0 {
		// A projection cannot be combined with Select=COUNT.
		whole := *q
		whole.KeysOnly = false
		input, _, err := s.buildQuery(&whole)
		if err != nil {
			return 0, err
		}
		input.Select = types.SelectCount
		total := 0
		paginator := dynamodb.NewQueryPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return 0, err
			}
			total += int(page.Count)
		}
		return total, nil
	}

	keys := *q
	keys.KeysOnly = true
	it, err := s.Run(ctx, &keys)
	if err != nil {
		return 0, err
	}
	all, err := drain(it)
	return len(all), err
}

func (s *Store) stream(ctx context.Context, q *datastore.Query) (datastore.Iterator, error) {
	input, ok, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return datastore.NewSliceIterator(nil), nil
	}
	left := -1
	if q.Limit > 0 {
		left = q.Limit
	}
	return &iterator{ctx: ctx, client: s.client, input: input, query: q, skip: q.Offset, left: left}, nil
}

// iterator pages through a DynamoDB query lazily.
type iterator struct {
	ctx    context.Context
	client API
	input  *dynamodb.QueryInput
	query  *datastore.Query

	page []map[string]types.AttributeValue
	pos  int
	done bool

	skip int
	left int // -1 means unlimited
}

// Next implements datastore.Iterator.
func (it *iterator) Next() (*datastore.Entity, error) {
	for {
		if it.left == 0 {
			return nil, datastore.Done
		}
		if it.pos >= len(it.page) {
			if it.done {
				return nil, datastore.Done
			}
			if err := it.fetch(); err != nil {
				return nil, err
			}
			continue
		}
		raw := it.page[it.pos]
		it.pos++

		e, err := ItemToEntity(raw)
		if err != nil {
			return nil, err
		}
		if !datastore.Match(e, it.query.Filters) {
			continue
		}
		if it.skip > 0 {
			it.skip--
			continue
		}
		if it.left > 0 {
			it.left--
		}
		if it.query.KeysOnly {
			e = e.KeysOnly()
		}
		return e, nil
	}
}

func (it *iterator) fetch() error {
	out, err := it.client.Query(it.ctx, it.input)
	if err != nil {
		return err
	}
	it.page, it.pos = out.Items, 0
	if len(out.LastEvaluatedKey) == 0 {
		it.done = true
	} else {
		it.input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return nil
}

func drain(it datastore.Iterator) ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	for {
		e, err := it.Next()
		if errors.Is(err, datastore.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// joinStrings joins strings with a separator.
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}
