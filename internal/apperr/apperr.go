package apperr

import (
	"github.com/pkg/errors"
)

// Kind: класс исхода операции. Внешний слой (HTTP/CLI) переводит его в свой код ответа.
type Kind int

const (
	KindStorage Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindPoolExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPoolExhausted:
		return "pool_exhausted"
	default:
		return "storage"
	}
}

// Сентинелы для errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrPoolExhausted = errors.New("address pool exhausted")
	ErrStorage       = errors.New("storage error")
)

func sentinel(k Kind) error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindPoolExhausted:
		return ErrPoolExhausted
	default:
		return ErrStorage
	}
}

// Error несёт класс исхода, имя операции и причину.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + sentinel(e.Kind).Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == sentinel(e.Kind) }

// New: ошибка заданного класса с форматированным сообщением.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// Wrap оборачивает err классом kind. Уже типизированные ошибки не переклассифицируются.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// KindOf возвращает класс ошибки; всё нетипизированное считается ошибкой хранилища.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}
