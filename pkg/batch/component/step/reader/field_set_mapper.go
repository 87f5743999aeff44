package reader

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/exception"
)

// FieldTag is the struct tag naming the field a struct member is mapped from.
const FieldTag = "field"

// FieldSetMapper converts one FieldSet into a typed item.
type FieldSetMapper[T any] interface {
	Map(fs FieldSet) (T, error)
}

// FieldSetMapperFunc adapts a function to FieldSetMapper.
type FieldSetMapperFunc[T any] func(fs FieldSet) (T, error)

func (f FieldSetMapperFunc[T]) Map(fs FieldSet) (T, error) { return f(fs) }

// BeanWrapperFieldSetMapper maps fields onto the members of a struct T tagged with
// `field:"name"`. String values are converted to the member types; an empty value
// leaves the zero value.
type BeanWrapperFieldSetMapper[T any] struct{}

// NewBeanWrapperFieldSetMapper creates a new instance of [BeanWrapperFieldSetMapper].
func NewBeanWrapperFieldSetMapper[T any]() *BeanWrapperFieldSetMapper[T] {
	return &BeanWrapperFieldSetMapper[T]{}
}

// Map implements FieldSetMapper.
func (m *BeanWrapperFieldSetMapper[T]) Map(fs FieldSet) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          FieldTag,
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(fs.ToMap()); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// MappingItemProcessor adapts a FieldSetMapper to a [port.ItemProcessor].
// Mapping errors are reported as exception.ErrItemMapping.
type MappingItemProcessor[T any] struct {
	mapper FieldSetMapper[T]
}

var _ port.ItemProcessor[FieldSet, any] = (*MappingItemProcessor[any])(nil)

// NewMappingItemProcessor creates a new instance of [MappingItemProcessor].
func NewMappingItemProcessor[T any](mapper FieldSetMapper[T]) *MappingItemProcessor[T] {
	return &MappingItemProcessor[T]{mapper: mapper}
}

// Process implements port.ItemProcessor.
func (p *MappingItemProcessor[T]) Process(ctx context.Context, fs FieldSet) (T, error) {
	item, err := p.mapper.Map(fs)
	if err != nil {
		var zero T
		return zero, exception.Wrap("FieldSetMapper", exception.ErrItemMapping,
			fmt.Sprintf("cannot map record at line %d", fs.LineNumber), err)
	}
	return item, nil
}
