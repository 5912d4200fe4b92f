// Package dynamodb is a document-store dialect over Amazon DynamoDB. A record is an item keyed
// by its key columns. An association is one document: a list of row maps held by an item of
// the association table, or by the owner's own item for embedded collections.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sharedcode/ogm"
)

// rowsAttribute holds the rows of an association stored in its own item.
const rowsAttribute = "rows"

// Dialect implements ogm.QueryableDialect over a DynamoDB client. It is safe for concurrent use.
type Dialect struct {
	client  Client
	options Options
}

var _ ogm.QueryableDialect = (*Dialect)(nil)

// NewDialect returns a dialect storing records through client.
func NewDialect(client Client, options Options) *Dialect {
	return &Dialect{client: client, options: options.withDefaults()}
}

// failure maps a failed conditional write to an optimistic conflict and wraps every other error.
func failure(op, table string, err error) error {
	statement := op + " " + table
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ogm.ConflictError(statement, err)
	}
	return ogm.BackendError(statement, fmt.Errorf("dynamodb %s failed: %w", op, err))
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

func (d *Dialect) GetTuple(ctx context.Context, key ogm.EntityKey) (*ogm.Tuple, error) {
	k, err := keyAttributes(key.ColumnNames(), key.ColumnValues)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(key.Table()),
		Key:            k,
		ConsistentRead: aws.Bool(d.options.ConsistentRead),
	})
	if err != nil {
		return nil, failure("GetItem", key.Table(), err)
	}
	if out.Item == nil {
		return nil, nil
	}
	columns, err := fromItem(out.Item)
	if err != nil {
		return nil, failure("GetItem", key.Table(), err)
	}
	return ogm.NewTuple(ogm.MapTupleSnapshot(columns)), nil
}

func (d *Dialect) CreateTuple(key ogm.EntityKey) *ogm.Tuple {
	return ogm.NewCreatedTuple(ogm.NewKeySnapshot(key))
}

// updateExpression renders SET and REMOVE clauses with placeholder names, skipping key attributes.
type updateExpression struct {
	set    []string
	remove []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdateExpression() *updateExpression {
	return &updateExpression{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (u *updateExpression) Set(column string, v types.AttributeValue) {
	p := fmt.Sprintf("p%d", len(u.set))
	u.names["#"+p] = column
	u.values[":"+p] = v
	u.set = append(u.set, fmt.Sprintf("#%s = :%s", p, p))
}

func (u *updateExpression) Remove(column string) {
	p := fmt.Sprintf("#c%d", len(u.remove))
	u.names[p] = column
	u.remove = append(u.remove, p)
}

func (u *updateExpression) IsEmpty() bool {
	return len(u.set) == 0 && len(u.remove) == 0
}

func (u *updateExpression) String() string {
	var clauses []string
	if len(u.set) > 0 {
		clauses = append(clauses, "SET "+strings.Join(u.set, ", "))
	}
	if len(u.remove) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(u.remove, ", "))
	}
	return strings.Join(clauses, " ")
}

func (u *updateExpression) input(table string, key map[string]types.AttributeValue) *dynamodb.UpdateItemInput {
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key:       key,
	}
	if u.IsEmpty() {
		return in
	}
	in.UpdateExpression = aws.String(u.String())
	in.ExpressionAttributeNames = u.names
	if len(u.values) > 0 {
		in.ExpressionAttributeValues = u.values
	}
	return in
}

// InsertOrUpdateTuple issues one UpdateItem: puts become SET, put-nulls and removes become
// REMOVE. The item is created when missing.
func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	ops := tuple.Operations()
	if len(ops) == 0 {
		return nil
	}
	k, err := keyAttributes(key.ColumnNames(), key.ColumnValues)
	if err != nil {
		return err
	}
	u := newUpdateExpression()
	for _, op := range ops {
		if key.Metadata.IsKeyColumn(op.Column) {
			continue
		}
		switch op.Type {
		case ogm.Put:
			av, err := toAttribute(op.Value)
			if err != nil {
				return ogm.ContractError(op.Value, "column %q can not be marshaled: %v", op.Column, err)
			}
			u.Set(op.Column, av)
		case ogm.PutNull, ogm.Remove:
			u.Remove(op.Column)
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
	}
	if _, err := d.client.UpdateItem(ctx, u.input(key.Table(), k)); err != nil {
		return failure("UpdateItem", key.Table(), err)
	}
	return nil
}

// InsertTuple puts the whole item on condition that no item has its key.
func (d *Dialect) InsertTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	item, err := keyAttributes(key.ColumnNames(), key.ColumnValues)
	if err != nil {
		return err
	}
	for c, v := range tuple.Map() {
		if v == nil || key.Metadata.IsKeyColumn(c) {
			continue
		}
		av, err := toAttribute(v)
		if err != nil {
			return ogm.ContractError(v, "column %q can not be marshaled: %v", c, err)
		}
		item[c] = av
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(key.Table()),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": key.ColumnNames()[0]},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ogm.AlreadyExistsError("PutItem "+key.Table(), key)
		}
		return failure("PutItem", key.Table(), err)
	}
	return nil
}

func (d *Dialect) RemoveTuple(ctx context.Context, key ogm.EntityKey) error {
	k, err := keyAttributes(key.ColumnNames(), key.ColumnValues)
	if err != nil {
		return err
	}
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(key.Table()), Key: k}); err != nil {
		return failure("DeleteItem", key.Table(), err)
	}
	return nil
}

// IsStoredInEntityStructure is true for embedded collections, which live in the owner's item.
func (d *Dialect) IsStoredInEntityStructure(metadata ogm.AssociationKeyMetadata) bool {
	return metadata.Kind == ogm.EmbeddedCollection
}

// location returns the item holding an association and the attribute holding its rows.
func (d *Dialect) location(key ogm.AssociationKey) (string, map[string]types.AttributeValue, string, error) {
	if d.IsStoredInEntityStructure(key.Metadata) && len(key.EntityKey.ColumnValues) > 0 {
		k, err := keyAttributes(key.EntityKey.ColumnNames(), key.EntityKey.ColumnValues)
		attribute := key.Metadata.CollectionRole
		if attribute == "" {
			attribute = rowsAttribute
		}
		return key.EntityKey.Table(), k, attribute, err
	}
	k, err := keyAttributes(key.Metadata.ColumnNames, key.ColumnValues)
	return key.Table(), k, rowsAttribute, err
}

func (d *Dialect) GetAssociation(ctx context.Context, key ogm.AssociationKey) (*ogm.Association, error) {
	table, k, attribute, err := d.location(key)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(table),
		Key:                      k,
		ConsistentRead:           aws.Bool(d.options.ConsistentRead),
		ProjectionExpression:     aws.String("#rows"),
		ExpressionAttributeNames: map[string]string{"#rows": attribute},
	})
	if err != nil {
		return nil, failure("GetItem", table, err)
	}
	if out.Item == nil || out.Item[attribute] == nil {
		return nil, nil
	}
	columns, err := fromItem(out.Item)
	if err != nil {
		return nil, failure("GetItem", table, err)
	}
	rows, ok := columns[attribute].([]any)
	if !ok {
		return nil, failure("GetItem", table, fmt.Errorf("attribute %q holds %T, not a list", attribute, columns[attribute]))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	snapshot := ogm.NewMapAssociationSnapshot()
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, failure("GetItem", table, fmt.Errorf("row of %q holds %T, not a map", attribute, r))
		}
		row := ogm.MapTupleSnapshot(m)
		snapshot.Add(ogm.RowKeyFromSnapshot(key.Metadata, key, row), row)
	}
	return ogm.NewAssociation(snapshot), nil
}

func (d *Dialect) CreateAssociation(key ogm.AssociationKey) *ogm.Association {
	return ogm.NewCreatedAssociation()
}

// rows materializes the association's visible rows; owning key columns stay implicit in the item key.
func rows(key ogm.AssociationKey, association *ogm.Association) []map[string]any {
	keys := association.Keys()
	r := make([]map[string]any, 0, len(keys))
	for _, rk := range keys {
		row := association.Get(rk).Map()
		for i, c := range rk.ColumnNames {
			row[c] = rk.ColumnValues[i]
		}
		for _, c := range key.Metadata.ColumnNames {
			delete(row, c)
		}
		r = append(r, row)
	}
	return r
}

// InsertOrUpdateAssociation rewrites the whole row list: the snapshot rows not removed (none
// after a clear) followed by the new rows. An empty association removes the document.
func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key ogm.AssociationKey, association *ogm.Association) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	if len(association.Operations()) == 0 {
		return nil
	}
	table, k, attribute, err := d.location(key)
	if err != nil {
		return err
	}
	r := rows(key, association)
	embedded := d.IsStoredInEntityStructure(key.Metadata) && len(key.EntityKey.ColumnValues) > 0

	if !embedded {
		if len(r) == 0 {
			return d.deleteItem(ctx, table, k)
		}
		av, err := toAttribute(r)
		if err != nil {
			return ogm.ContractError(key, "association rows can not be marshaled: %v", err)
		}
		item := make(map[string]types.AttributeValue, len(k)+1)
		for c, v := range k {
			item[c] = v
		}
		item[attribute] = av
		if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: item}); err != nil {
			return failure("PutItem", table, err)
		}
		return nil
	}

	u := newUpdateExpression()
	if len(r) == 0 {
		u.Remove(attribute)
	} else {
		av, err := toAttribute(r)
		if err != nil {
			return ogm.ContractError(key, "association rows can not be marshaled: %v", err)
		}
		u.Set(attribute, av)
	}
	if _, err := d.client.UpdateItem(ctx, u.input(table, k)); err != nil {
		return failure("UpdateItem", table, err)
	}
	return nil
}

func (d *Dialect) deleteItem(ctx context.Context, table string, k map[string]types.AttributeValue) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(table), Key: k}); err != nil {
		return failure("DeleteItem", table, err)
	}
	return nil
}

func (d *Dialect) RemoveAssociation(ctx context.Context, key ogm.AssociationKey) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	table, k, attribute, err := d.location(key)
	if err != nil {
		return err
	}
	if !d.IsStoredInEntityStructure(key.Metadata) || len(key.EntityKey.ColumnValues) == 0 {
		return d.deleteItem(ctx, table, k)
	}
	// The owner may be gone already; only strip the attribute from an existing item.
	u := newUpdateExpression()
	u.Remove(attribute)
	in := u.input(table, k)
	in.ConditionExpression = aws.String("attribute_exists(#c0)")
	if _, err := d.client.UpdateItem(ctx, in); err != nil && !isConditionFailed(err) {
		return failure("UpdateItem", table, err)
	}
	return nil
}

// NextValue atomically adds the increment with SET v = if_not_exists(v, :init) + :inc and
// returns the value before the addition.
func (d *Dialect) NextValue(ctx context.Context, request ogm.NextValueRequest) (int64, error) {
	increment := int64(request.Increment)
	if increment == 0 {
		increment = 1
	}
	m := request.Key.Metadata
	table, keyColumn, valueColumn := d.options.SequenceTable, sequenceKeyColumn, sequenceValueColumn
	if m.Type == ogm.TableIDSource && m.Name != "" {
		table = m.Name
		if m.KeyColumnName != "" {
			keyColumn = m.KeyColumnName
		}
		if m.ValueColumnName != "" {
			valueColumn = m.ValueColumnName
		}
	}
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              map[string]types.AttributeValue{keyColumn: &types.AttributeValueMemberS{Value: request.Key.Name()}},
		UpdateExpression: aws.String("SET #v = if_not_exists(#v, :init) + :inc"),
		ExpressionAttributeNames: map[string]string{
			"#v": valueColumn,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":init": &types.AttributeValueMemberN{Value: fmt.Sprint(request.InitialValue)},
			":inc":  &types.AttributeValueMemberN{Value: fmt.Sprint(increment)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, failure("UpdateItem", table, err)
	}
	columns, err := fromItem(out.Attributes)
	if err != nil {
		return 0, failure("UpdateItem", table, err)
	}
	next, ok := columns[valueColumn].(int64)
	if !ok {
		return 0, failure("UpdateItem", table, fmt.Errorf("counter %q holds %T", valueColumn, columns[valueColumn]))
	}
	return next - increment, nil
}

// ForEachTuple pages through each table with Scan.
func (d *Dialect) ForEachTuple(ctx context.Context, consumer ogm.TupleConsumer, metadata ...ogm.EntityKeyMetadata) error {
	for _, m := range metadata {
		in := &dynamodb.ScanInput{TableName: aws.String(m.Table)}
		if d.options.ScanPageSize > 0 {
			in.Limit = aws.Int32(d.options.ScanPageSize)
		}
		paginator := dynamodb.NewScanPaginator(d.client, in)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return failure("Scan", m.Table, err)
			}
			for _, item := range page.Items {
				columns, err := fromItem(item)
				if err != nil {
					return failure("Scan", m.Table, err)
				}
				if err := consumer(ctx, m, ogm.NewTuple(ogm.MapTupleSnapshot(columns))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ExecuteBackendQuery runs a PartiQL statement, following NextToken across result pages.
func (d *Dialect) ExecuteBackendQuery(ctx context.Context, query string, params []any, consumer func(*ogm.Tuple) error) error {
	parameters := make([]types.AttributeValue, len(params))
	for i, p := range params {
		av, err := toAttribute(p)
		if err != nil {
			return ogm.ContractError(p, "parameter %d can not be marshaled: %v", i, err)
		}
		parameters[i] = av
	}
	in := &dynamodb.ExecuteStatementInput{
		Statement:      aws.String(query),
		ConsistentRead: aws.Bool(d.options.ConsistentRead),
	}
	if len(parameters) > 0 {
		in.Parameters = parameters
	}
	for {
		out, err := d.client.ExecuteStatement(ctx, in)
		if err != nil {
			return failure("ExecuteStatement", query, err)
		}
		for _, item := range out.Items {
			columns, err := fromItem(item)
			if err != nil {
				return failure("ExecuteStatement", query, err)
			}
			if err := consumer(ogm.NewTuple(ogm.MapTupleSnapshot(columns))); err != nil {
				return err
			}
		}
		if out.NextToken == nil {
			return nil
		}
		in.NextToken = out.NextToken
	}
}

// LockStrategy returns nil: DynamoDB offers conditional writes, not locks.
func (d *Dialect) LockStrategy(mode ogm.LockMode) ogm.LockStrategy {
	return nil
}

// OverrideType returns nil: attributevalue maps every Go type the dialect receives.
func (d *Dialect) OverrideType(t reflect.Type) ogm.TypeConverter {
	return nil
}
