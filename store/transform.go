package store

import "fmt"

// Append adds doc at the end of the collection.
func Append(doc Document) Transform {
	return func(c Collection) (Collection, error) {
		return append(c, doc), nil
	}
}

// ReplaceByID swaps the document with the given id for doc, keeping its
// position.
func ReplaceByID(id string, doc Document) Transform {
	return func(c Collection) (Collection, error) {
		i := c.Index(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, id)
		}
		c[i] = doc
		return c, nil
	}
}

// ModifyByID calls fn on the document with the given id. An error from fn
// aborts the update.
func ModifyByID(id string, fn func(Document) error) Transform {
	return func(c Collection) (Collection, error) {
		doc := c.Find(id)
		if doc == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, id)
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// RemoveByID drops the document with the given id.
func RemoveByID(id string) Transform {
	return func(c Collection) (Collection, error) {
		i := c.Index(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, id)
		}
		return append(c[:i], c[i+1:]...), nil
	}
}
