package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// fakeClient is an in-memory DynamoDB understanding the expressions the dialect generates.
type fakeClient struct {
	mu sync.Mutex
	// schema lists the key attributes of each table.
	schema      map[string][]string
	tables      map[string]map[string]item
	expressions []string
	statements  []string
	calls       int
	failWith    error
}

func newFakeClient(schema map[string][]string) *fakeClient {
	return &fakeClient{schema: schema, tables: make(map[string]map[string]item)}
}

func avString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	}
	return fmt.Sprintf("%v", av)
}

func (f *fakeClient) id(table string, key item) string {
	var parts []string
	for _, c := range f.schema[table] {
		parts = append(parts, avString(key[c]))
	}
	return strings.Join(parts, "|")
}

func (f *fakeClient) table(name string) map[string]item {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]item)
		f.tables[name] = t
	}
	return t
}

func copyItem(i item) item {
	r := make(item, len(i))
	for k, v := range i {
		r[k] = v
	}
	return r
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	stored, ok := f.table(aws.ToString(in.TableName))[f.id(aws.ToString(in.TableName), in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	out := copyItem(stored)
	if in.ProjectionExpression != nil {
		out = item{}
		for _, p := range strings.Split(aws.ToString(in.ProjectionExpression), ",") {
			name := in.ExpressionAttributeNames[strings.TrimSpace(p)]
			if v, ok := stored[name]; ok {
				out[name] = v
			}
		}
	}
	return &dynamodb.GetItemOutput{Item: out}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	t := f.table(aws.ToString(in.TableName))
	id := f.id(aws.ToString(in.TableName), in.Item)
	if strings.HasPrefix(aws.ToString(in.ConditionExpression), "attribute_not_exists") {
		if _, ok := t[id]; ok {
			return nil, conditionFailed()
		}
	}
	t[id] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	name := aws.ToString(in.TableName)
	t := f.table(name)
	id := f.id(name, in.Key)
	stored, exists := t[id]
	if strings.HasPrefix(aws.ToString(in.ConditionExpression), "attribute_exists") && !exists {
		return nil, conditionFailed()
	}
	if !exists {
		stored = copyItem(in.Key)
	}
	expr := aws.ToString(in.UpdateExpression)
	f.expressions = append(f.expressions, expr)

	if strings.Contains(expr, "if_not_exists") {
		column := in.ExpressionAttributeNames["#v"]
		current := in.ExpressionAttributeValues[":init"].(*types.AttributeValueMemberN).Value
		if n, ok := stored[column].(*types.AttributeValueMemberN); ok {
			current = n.Value
		}
		c, _ := strconv.ParseInt(current, 10, 64)
		inc, _ := strconv.ParseInt(in.ExpressionAttributeValues[":inc"].(*types.AttributeValueMemberN).Value, 10, 64)
		next := &types.AttributeValueMemberN{Value: strconv.FormatInt(c+inc, 10)}
		stored[column] = next
		t[id] = stored
		return &dynamodb.UpdateItemOutput{Attributes: item{column: next}}, nil
	}

	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("REMOVE "):]
	}
	setPart = strings.TrimPrefix(strings.TrimSpace(setPart), "SET ")
	if setPart != "" {
		for _, clause := range strings.Split(setPart, ", ") {
			lr := strings.Split(clause, " = ")
			stored[in.ExpressionAttributeNames[lr[0]]] = in.ExpressionAttributeValues[lr[1]]
		}
	}
	if removePart != "" {
		for _, p := range strings.Split(removePart, ", ") {
			delete(stored, in.ExpressionAttributeNames[strings.TrimSpace(p)])
		}
	}
	t[id] = stored
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	delete(f.table(aws.ToString(in.TableName)), f.id(aws.ToString(in.TableName), in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) sortedIDs(name string) []string {
	ids := make([]string, 0, len(f.table(name)))
	for id := range f.table(name) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeClient) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	name := aws.ToString(in.TableName)
	ids := f.sortedIDs(name)
	start := 0
	if in.ExclusiveStartKey != nil {
		after := f.id(name, in.ExclusiveStartKey)
		start = sort.SearchStrings(ids, after) + 1
	}
	end := len(ids)
	if in.Limit != nil && start+int(*in.Limit) < end {
		end = start + int(*in.Limit)
	}
	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, copyItem(f.tables[name][id]))
	}
	if end < len(ids) {
		last := f.tables[name][ids[end-1]]
		key := item{}
		for _, c := range f.schema[name] {
			key[c] = last[c]
		}
		out.LastEvaluatedKey = key
	}
	return out, nil
}

// ExecuteStatement serves "SELECT * FROM <table>" one item per page.
func (f *fakeClient) ExecuteStatement(ctx context.Context, in *dynamodb.ExecuteStatementInput, _ ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	stmt := aws.ToString(in.Statement)
	f.statements = append(f.statements, fmt.Sprintf("%s %d", stmt, len(in.Parameters)))
	fields := strings.Fields(stmt)
	name := strings.Trim(fields[len(fields)-1], `"`)
	ids := f.sortedIDs(name)
	i := 0
	if in.NextToken != nil {
		i, _ = strconv.Atoi(*in.NextToken)
	}
	out := &dynamodb.ExecuteStatementOutput{}
	if i < len(ids) {
		out.Items = []item{copyItem(f.tables[name][ids[i]])}
	}
	if i+1 < len(ids) {
		out.NextToken = aws.String(strconv.Itoa(i + 1))
	}
	return out, nil
}
