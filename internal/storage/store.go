package storage

/*
Пакет storage — durable key→JSON хранилище менеджеров (аналог localStorage браузера).
Семантика: чтение один раз при конструировании менеджера, синхронная запись
полного снапшота на каждую мутацию, last write wins. Транзакций и батчинга нет:
сбой между вычислением и записью теряет одно обновление, но не портит предыдущее.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: key not found")

// Store — минимальный контракт хранилища.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// LoadJSON читает и декодирует значение. ErrNotFound пробрасывается как есть.
func LoadJSON(ctx context.Context, s Store, key string, dst interface{}) error {
	raw, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// SaveJSON сериализует весь снапшот и пишет его одним вызовом.
func SaveJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.Save(ctx, key, raw)
}
