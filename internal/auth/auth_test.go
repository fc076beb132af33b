package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestIssueAndValidate выдача и проверка токена
func TestIssueAndValidate(t *testing.T) {
	ti, err := NewTokenIssuer(GenerateSecureSecret(), time.Minute)
	if err != nil {
		t.Fatalf("Ошибка создания издателя: %v", err)
	}

	token, err := ti.Issue("admin")
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Неверный формат JWT токена: %s", token)
	}

	claims, err := ti.Validate(token)
	if err != nil {
		t.Fatalf("Валидный токен определен как недействительный: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Неверное имя: ожидалось admin, получено %s", claims.Username)
	}
}

// TestValidateInvalidJWT недействительные токены
func TestValidateInvalidJWT(t *testing.T) {
	ti, _ := NewTokenIssuer("", time.Minute)
	other, _ := NewTokenIssuer("", time.Minute)
	foreign, _ := other.Issue("admin")

	for _, token := range []string{"", "invalid.token.here", "not.a.jwt", foreign} {
		if _, err := ti.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Токен %q должен быть отклонён, ошибка: %v", token, err)
		}
	}
}

// TestExpiredToken токен с истёкшим сроком
func TestExpiredToken(t *testing.T) {
	ti, _ := NewTokenIssuer("", time.Minute)
	token, _ := ti.Issue("admin")

	ti.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := ti.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Просроченный токен принят: %v", err)
	}
}

func TestShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("c2hvcnQ=", time.Minute); !errors.Is(err, ErrShortSecret) {
		t.Errorf("Короткий секрет принят: %v", err)
	}
}

// TestPassword bcrypt
func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("Ошибка хеширования: %v", err)
	}
	if !CheckPassword(hash, "s3cret-pass") {
		t.Error("Правильный пароль не прошёл проверку")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Неправильный пароль прошёл проверку")
	}
	if CheckPassword("", "s3cret-pass") {
		t.Error("Пустой хеш прошёл проверку")
	}
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("Короткий пароль принят: %v", err)
	}
}
