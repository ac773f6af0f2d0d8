// Package storage реализует хранилище ядра на PostgreSQL: анкеты
// пользователей, счётчики лимитов, каталог пакетов и журнал платежей.
// Все мутации выполняются внутри одной транзакции через WithTx;
// текст запросов фиксирован на этапе компиляции, значения передаются
// только параметрами.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Failure — инфраструктурная ошибка хранилища: потеря соединения,
// нарушение ограничения, неудачный коммит. Объемлющая транзакция
// к этому моменту уже откатана.
type Failure struct {
	Op  string // Операция вида storage.UpdateField
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func failure(op string, err error) *Failure {
	return &Failure{Op: op, Err: err}
}

// Storage инкапсулирует пул соединений с PostgreSQL. Создаётся один
// раз на старте процесса и передаётся явно; глобального состояния нет.
type Storage struct {
	DB *sql.DB
}

// New открывает пул соединений и проверяет его пингом.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{DB: db}, nil
}

// Close освобождает пул. Вызывается при останове процесса.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// WithTx выполняет fn внутри одной транзакции: при nil-результате
// изменения коммитятся, при любой ошибке откатываются, а ошибка
// возвращается обёрнутой в Failure, если она не является нарушением
// политики или иным доменным исходом, решённым до записи.
func (s *Storage) WithTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return failure(op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return failure(op, err)
	}
	return nil
}
