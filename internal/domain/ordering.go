package domain

// moveItem moves items[from] to position to, shifting the elements in
// between by one. The relative order of all other elements is preserved.
func moveItem[T any](items []T, from, to int) error {
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	item := items[from]
	if from < to {
		copy(items[from:to], items[from+1:to+1])
	} else {
		copy(items[to+1:from+1], items[to:from])
	}
	items[to] = item
	return nil
}

func removeItem[T any](items []T, i int) ([]T, error) {
	if i < 0 || i >= len(items) {
		return items, ErrIndexOutOfRange
	}
	return append(items[:i], items[i+1:]...), nil
}

func insertItem[T any](items []T, i int, v T) ([]T, error) {
	if i < 0 || i > len(items) {
		return items, ErrIndexOutOfRange
	}
	var zero T
	items = append(items, zero)
	copy(items[i+1:], items[i:])
	items[i] = v
	return items, nil
}

// span returns the inclusive index range touched by a move
func span(from, to int) (int, int) {
	if from > to {
		return to, from
	}
	return from, to
}
