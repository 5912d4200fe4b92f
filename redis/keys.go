package redis

import (
	"encoding/hex"
	"strings"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/encoding"
)

// Key layout:
//
//	e:<table>:<key>        hash of one record, a field per column
//	a:<table>:<owner key>  hash of one association, a field per row key
//	s:<counter>            counter of an id source
//	l:<table>:<key>        pessimistic lock of one record
//
// Key values are msgpack encoded then hex encoded so that keys stay printable and glob safe.

func encodeValues(values []any) (string, error) {
	b, err := encoding.EncodeKey(values)
	if err != nil {
		return "", ogm.ContractError(values, "key values can not be encoded: %v", err)
	}
	return hex.EncodeToString(b), nil
}

func (d *Dialect) entityKey(key ogm.EntityKey) (string, error) {
	enc, err := encodeValues(key.ColumnValues)
	if err != nil {
		return "", err
	}
	return d.options.KeyPrefix + "e:" + key.Table() + ":" + enc, nil
}

func (d *Dialect) associationKey(key ogm.AssociationKey) (string, error) {
	enc, err := encodeValues(key.ColumnValues)
	if err != nil {
		return "", err
	}
	return d.options.KeyPrefix + "a:" + key.Table() + ":" + enc, nil
}

func (d *Dialect) lockKey(key ogm.EntityKey) (string, error) {
	enc, err := encodeValues(key.ColumnValues)
	if err != nil {
		return "", err
	}
	return d.options.KeyPrefix + "l:" + key.Table() + ":" + enc, nil
}

func (d *Dialect) counterKey(key ogm.IDSourceKey) string {
	if key.Metadata.Type == ogm.TableIDSource && key.Metadata.Name != "" && key.ColumnValue != "" {
		return d.options.KeyPrefix + "s:" + key.Metadata.Name + ":" + key.ColumnValue
	}
	return d.options.KeyPrefix + "s:" + key.Name()
}

// tablePattern matches every record key of table in a SCAN.
func (d *Dialect) tablePattern(table string) string {
	return escapeGlob(d.options.KeyPrefix+"e:"+table+":") + "*"
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// rowField is the hash field of one association row.
func rowField(key ogm.RowKey) (string, error) {
	return encodeValues(key.ColumnValues)
}
