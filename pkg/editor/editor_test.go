package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store/storetest"
	"github.com/kass/go-geo-incidents/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func theftFields() models.Fields {
	return models.Fields{Lng: 10, Lat: 20, Category: "theft", Degree: 2, Description: "d"}
}

func TestDraftDefaults(t *testing.T) {
	d := NewDraft()
	assert.Equal(t, models.Fields{Degree: 1}, d.Fields())

	d.Set(theftFields())
	assert.Equal(t, theftFields(), d.Fields())

	d.Reset()
	assert.Equal(t, models.Fields{Degree: 1}, d.Fields())
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid input pushes exactly once and resets the draft", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")
		d := NewDraft()
		d.Set(theftFields())

		id, err := e.Create(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, "id-1", id)

		pushes := rec.Calls("push")
		require.Len(t, pushes, 1)
		assert.Equal(t, "crimes", pushes[0].Path)
		assert.JSONEq(t, `{"lng":10,"lat":20,"category":"theft","degree":2,"description":"d"}`, string(pushes[0].Value))
		assert.Empty(t, rec.Calls("write"), "create must not touch existing records")

		assert.Equal(t, models.Fields{Degree: 1}, d.Fields())
	})

	t.Run("invalid longitude writes nothing", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")
		d := NewDraft()
		f := theftFields()
		f.Lng = 200
		d.Set(f)

		_, err := e.Create(ctx, d)
		require.Error(t, err)
		assert.ErrorIs(t, err, validate.ErrValidation)
		assert.Equal(t, "Longitude is not in valid range", err.Error())
		assert.Empty(t, rec.Calls(""))

		// input survives so the user can fix it
		assert.Equal(t, f, d.Fields())
	})

	t.Run("longitude error wins when both coordinates are bad", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")
		d := NewDraft()
		f := theftFields()
		f.Lng, f.Lat = -181, 91
		d.Set(f)

		_, err := e.Create(ctx, d)
		require.Error(t, err)
		assert.Equal(t, "Longitude is not in valid range", err.Error())
		assert.Empty(t, rec.Calls("push"))
	})

	t.Run("store error is returned unchanged", func(t *testing.T) {
		rec := storetest.New()
		boom := errors.New("network down")
		rec.PushErr = boom
		e := New(rec, "crimes")
		d := NewDraft()
		d.Set(theftFields())

		_, err := e.Create(ctx, d)
		assert.Same(t, boom, err)
		assert.Len(t, rec.Calls("push"), 1)
		assert.Equal(t, theftFields(), d.Fields())
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed delete writes a null exactly once", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")

		var asked string
		confirm := ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
			asked = prompt
			assert.Empty(t, rec.Calls("write"), "write must wait for confirmation")
			return true, nil
		})

		deleted, err := e.Delete(ctx, "a", confirm)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Equal(t, DeletePrompt, asked)

		writes := rec.Calls("write")
		require.Len(t, writes, 1)
		assert.Equal(t, "a", writes[0].ID)
		assert.Nil(t, writes[0].Value)
	})

	t.Run("declined delete writes nothing", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")

		deleted, err := e.Delete(ctx, "a", NeverConfirm)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Empty(t, rec.Calls(""))
	})

	t.Run("confirmation error writes nothing", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")
		boom := errors.New("prompt closed")

		_, err := e.Delete(ctx, "a", ConfirmFunc(func(context.Context, string) (bool, error) {
			return false, boom
		}))
		assert.Same(t, boom, err)
		assert.Empty(t, rec.Calls(""))
	})

	t.Run("store error is returned unchanged", func(t *testing.T) {
		rec := storetest.New()
		boom := errors.New("write rejected")
		rec.WriteErr = boom
		e := New(rec, "crimes")

		deleted, err := e.Delete(ctx, "a", AlwaysConfirm)
		assert.Same(t, boom, err)
		assert.False(t, deleted)
		assert.Len(t, rec.Calls("write"), 1)
	})

	t.Run("empty id", func(t *testing.T) {
		rec := storetest.New()
		e := New(rec, "crimes")
		_, err := e.Delete(ctx, "", AlwaysConfirm)
		assert.ErrorIs(t, err, ErrEmptyID)
	})
}
