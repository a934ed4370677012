package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

const pySample = `"""Accounts module."""
import os
from .models import Base

LIMIT = 5


class AccountService(Base):
    """Handles accounts."""

    retries = 3

    def open(self, name: str) -> "Account":
        """Open an account."""
        validate(name)
        return self.store.save(name)


def validate(name):
    if not name:
        raise ValueError("empty")
    print(name)


@decorator
def wrapped():
    return validate("x")


helper()
`

func TestPythonStrategy_Symbols(t *testing.T) {
	result, err := NewPythonStrategy().Parse("pkg/accounts.py", []byte(pySample))
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	mod := symbolByName(t, result, "pkg.accounts")
	assert.Equal(t, types.KindModule, mod.Kind)
	assert.Equal(t, "Accounts module.", mod.DocComment)

	cls := symbolByName(t, result, "AccountService")
	assert.Equal(t, types.KindClass, cls.Kind)
	assert.Equal(t, "class AccountService(Base)", cls.Signature)
	assert.Equal(t, "Handles accounts.", cls.DocComment)
	assert.Equal(t, "service", cls.Metadata["pattern"])

	method := symbolByName(t, result, "AccountService.open")
	assert.Equal(t, types.KindMethod, method.Kind)
	assert.Equal(t, "open", method.ShortName)
	assert.Equal(t, `def open(self, name: str) -> "Account"`, method.Signature)
	assert.Equal(t, "Open an account.", method.DocComment)

	fn := symbolByName(t, result, "validate")
	assert.Equal(t, types.KindFunction, fn.Kind)
	assert.Equal(t, types.LangPython, fn.Language)
	assert.Equal(t, 19, fn.Location.LineStart)

	wrapped := symbolByName(t, result, "wrapped")
	assert.Equal(t, 25, wrapped.Location.LineStart, "decorator is part of the span")

	assert.Equal(t, types.KindVariable, symbolByName(t, result, "LIMIT").Kind)
	assert.Equal(t, types.KindVariable, symbolByName(t, result, "AccountService.retries").Kind)
	assert.Equal(t, types.KindImport, symbolByName(t, result, "os").Kind)
	assert.Equal(t, types.KindImport, symbolByName(t, result, "pkg.models").Kind)

	assert.ElementsMatch(t, []string{"os", "pkg.models"}, result.File.Imports)
	assert.ElementsMatch(t, []string{"LIMIT", "AccountService", "validate", "wrapped"}, result.File.Exports)
}

func TestPythonStrategy_Relations(t *testing.T) {
	result, err := NewPythonStrategy().Parse("pkg/accounts.py", []byte(pySample))
	require.NoError(t, err)

	method := symbolByName(t, result, "AccountService.open")
	assert.ElementsMatch(t, []string{"validate", "save"}, pendingFrom(result, method.ID, types.RelationCalls))

	fn := symbolByName(t, result, "validate")
	assert.Equal(t, []string{"ValueError"}, pendingFrom(result, fn.ID, types.RelationCalls), "print is a builtin")

	wrapped := symbolByName(t, result, "wrapped")
	assert.Equal(t, []string{"validate"}, pendingFrom(result, wrapped.ID, types.RelationCalls))

	cls := symbolByName(t, result, "AccountService")
	assert.Equal(t, []string{"Base"}, pendingFrom(result, cls.ID, types.RelationExtends))

	mod := symbolByName(t, result, "pkg.accounts")
	assert.Equal(t, []string{"helper"}, pendingFrom(result, mod.ID, types.RelationCalls))
	assert.ElementsMatch(t, []string{"os", "pkg.models"}, pendingFrom(result, mod.ID, types.RelationImports))
}

func TestPythonStrategy_Scenario(t *testing.T) {
	a, err := NewPythonStrategy().Parse("a.py", []byte("def foo():\n    return 1\n"))
	require.NoError(t, err)
	foo := symbolByName(t, a, "foo")

	b, err := NewPythonStrategy().Parse("b.py", []byte("from a import foo\n\n\ndef bar():\n    return foo()\n"))
	require.NoError(t, err)
	bar := symbolByName(t, b, "bar")
	assert.Equal(t, []string{"foo"}, pendingFrom(b, bar.ID, types.RelationCalls))
	assert.False(t, hasSymbol(b, "foo"), "imported names are not definitions")
	assert.NotEqual(t, foo.ID, bar.ID)
}

func TestPythonStrategy_SyntaxError(t *testing.T) {
	result, err := NewPythonStrategy().Parse("bad.py", []byte("def ok():\n    pass\n\ndef broken(:\n"))
	require.NoError(t, err)
	assert.True(t, result.HasErrors())
	assert.True(t, hasSymbol(result, "ok"))
}

func TestCleanDocstring(t *testing.T) {
	assert.Equal(t, "hello", cleanDocstring(`"""hello"""`))
	assert.Equal(t, "hi there", cleanDocstring(`r'''  hi there '''`))
	assert.Equal(t, "x", cleanDocstring(`"x"`))
}
