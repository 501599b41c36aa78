// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

// Column types handled by the aggregation core.
const (
	TypeUnspecified byte = iota
	// TypeLong is a 64-bit integer.
	TypeLong
	// TypeTimestamp is a 64-bit timestamp in microseconds.
	TypeTimestamp
	// TypeString is the fixed-width text representation.
	TypeString
	// TypeVarchar is the compact text representation. It carries an ascii
	// flag per value.
	TypeVarchar
)

var type2Str = map[byte]string{
	TypeUnspecified: "unspecified",
	TypeLong:        "long",
	TypeTimestamp:   "timestamp",
	TypeString:      "string",
	TypeVarchar:     "varchar",
}

// TypeToStr converts a column type to a string.
func TypeToStr(tp byte) string {
	if s, ok := type2Str[tp]; ok {
		return s
	}
	return "unknown"
}

// FieldType records the type of a column.
type FieldType struct {
	tp byte
}

// NewFieldType returns a FieldType with the given type.
func NewFieldType(tp byte) *FieldType {
	return &FieldType{tp: tp}
}

// GetType returns the type of the FieldType.
func (ft *FieldType) GetType() byte {
	return ft.tp
}

// IsText reports whether the column holds variable-length text.
func (ft *FieldType) IsText() bool {
	return IsTypeText(ft.tp)
}

// IsFixedLen reports whether every value of the column takes 8 bytes.
func (ft *FieldType) IsFixedLen() bool {
	return ft.tp == TypeLong || ft.tp == TypeTimestamp
}

// String implements the fmt.Stringer interface.
func (ft *FieldType) String() string {
	return TypeToStr(ft.tp)
}

// IsTypeText reports whether tp is a text type.
func IsTypeText(tp byte) bool {
	return tp == TypeString || tp == TypeVarchar
}
