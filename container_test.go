package covey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test types shared across the package tests
type Database struct {
	DSN    string
	closed bool
}

func (d *Database) Close() error {
	d.closed = true
	return nil
}

type UserService struct {
	DB *Database
}

type Notifier interface {
	Notify(msg string)
}

type EmailNotifier struct {
	Sent []string
}

func (e *EmailNotifier) Notify(msg string) {
	e.Sent = append(e.Sent, msg)
}

func NewDatabase() *Database {
	return &Database{DSN: "postgres://localhost/app"}
}

func NewUserService(db *Database) *UserService {
	return &UserService{DB: db}
}

func NewEmailNotifier() *EmailNotifier {
	return &EmailNotifier{}
}

func TestContainer_Get(t *testing.T) {
	t.Run("it should return the same cached instance on repeated resolutions", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().
			MustAddFactory(NewDatabase).
			CreateContainer()

		// WHEN
		db1, err := Get[*Database](c)
		require.NoError(t, err)
		db2, err := Get[*Database](c)
		require.NoError(t, err)

		// THEN
		assert.Same(t, db1, db2)
	})

	t.Run("it should resolve transitive dependencies through registered factories", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().
			MustAddFactory(NewDatabase).
			MustAddFactory(NewUserService).
			CreateContainer()

		// WHEN
		svc, err := Get[*UserService](c)
		require.NoError(t, err)

		// THEN
		require.NotNil(t, svc.DB)
		assert.Equal(t, "postgres://localhost/app", svc.DB.DSN)
		// the dependency went through the same cache
		db := MustGet[*Database](c)
		assert.Same(t, db, svc.DB)
	})

	t.Run("it should fail loudly for unknown types", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()

		// WHEN
		_, err := Get[*Database](c)

		// THEN
		require.Error(t, err)
		var resolutionErr *ResolutionError
		assert.ErrorAs(t, err, &resolutionErr)
		assert.Equal(t, TypeOf[*Database](), resolutionErr.Type)
	})

	t.Run("it should return an explicit default when nothing can resolve, without caching it", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		fallback := &Database{DSN: "sqlite://memory"}

		// WHEN
		db, err := Get[*Database](c, WithDefault(fallback))
		require.NoError(t, err)

		// THEN
		assert.Same(t, fallback, db)
		_, err = Get[*Database](c)
		assert.Error(t, err, "the default should not have been cached")
	})

	t.Run("it should prefer a cached instance over the default", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		seeded := &Database{DSN: "seeded"}
		Add(c, seeded)

		// WHEN
		db, err := Get[*Database](c, WithDefault(&Database{DSN: "fallback"}))
		require.NoError(t, err)

		// THEN
		assert.Same(t, seeded, db)
	})

	t.Run("it should resolve an interface from a cached implementation", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		email := &EmailNotifier{}
		Add(c, email)

		// WHEN
		notifier, err := Get[Notifier](c)
		require.NoError(t, err)

		// THEN
		assert.Same(t, email, notifier)
	})

	t.Run("it should not match interfaces when exact type matching is requested", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		Add(c, &EmailNotifier{})

		// WHEN
		_, err := Get[Notifier](c, WithTypeMatching(MatchExactType))

		// THEN
		assert.Error(t, err)
	})
}

func TestContainer_Add(t *testing.T) {
	t.Run("it should seed the cache, bypassing factories", func(t *testing.T) {
		// GIVEN
		factoryCalls := 0
		reg := NewRegistry().MustAddFactory(func() *Database {
			factoryCalls++
			return NewDatabase()
		})
		c := reg.CreateContainer()
		seeded := &Database{DSN: "seeded"}

		// WHEN
		Add(c, seeded)
		db := MustGet[*Database](c)

		// THEN
		assert.Same(t, seeded, db)
		assert.Equal(t, 0, factoryCalls)
	})

	t.Run("it should replace a previously seeded instance", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		Add(c, &Database{DSN: "first"})

		// WHEN
		second := &Database{DSN: "second"}
		Add(c, second)

		// THEN
		assert.Same(t, second, MustGet[*Database](c))
	})

	t.Run("it should seed under the dynamic type with AddInstance", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		db := &Database{DSN: "dynamic"}

		// WHEN
		c.AddInstance(db)

		// THEN
		assert.Same(t, db, MustGet[*Database](c))
	})
}

func TestContainer_Qualifiers(t *testing.T) {
	t.Run("it should keep qualified instances distinct from each other", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		primary := &Database{DSN: "primary"}
		replica := &Database{DSN: "replica"}
		AddQualified(c, "primary", primary)
		AddQualified(c, "replica", replica)

		// WHEN
		got1, err := Get[*Database](c, WithQualifier("primary"))
		require.NoError(t, err)
		got2, err := Get[*Database](c, WithQualifier("replica"))
		require.NoError(t, err)

		// THEN
		assert.Same(t, primary, got1)
		assert.Same(t, replica, got2)
		assert.NotSame(t, got1, got2)
	})

	t.Run("it should not let a bare type request see qualified instances", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		AddQualified(c, "primary", &Database{DSN: "primary"})

		// WHEN
		_, err := Get[*Database](c)

		// THEN
		assert.Error(t, err)
	})

	t.Run("it should not let a qualified request fall back to an unqualified instance", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		Add(c, &Database{DSN: "unqualified"})

		// WHEN
		_, err := Get[*Database](c, WithQualifier("primary"))

		// THEN
		require.Error(t, err)
		var resolutionErr *ResolutionError
		require.ErrorAs(t, err, &resolutionErr)
		assert.Equal(t, "primary", resolutionErr.Qualifier)
	})

	t.Run("it should build qualified instances from a qualified factory registration", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().
			MustAddFactory(func() *Database { return &Database{DSN: "primary"} }, Qualified("primary")).
			CreateContainer()

		// WHEN
		db1, err := Get[*Database](c, WithQualifier("primary"))
		require.NoError(t, err)
		db2, err := Get[*Database](c, WithQualifier("primary"))
		require.NoError(t, err)

		// THEN
		assert.Equal(t, "primary", db1.DSN)
		assert.Same(t, db1, db2)
	})
}

func TestContainer_Branch(t *testing.T) {
	t.Run("it should inherit instances already cached in the parent", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().MustAddFactory(NewDatabase).CreateContainer()
		fromParent := MustGet[*Database](parent)

		// WHEN
		child := parent.Branch()
		fromChild := MustGet[*Database](child)

		// THEN
		assert.Same(t, fromParent, fromChild)
	})

	t.Run("it should keep child-created instances out of the parent", func(t *testing.T) {
		// GIVEN
		reg := NewRegistry().MustAddFactory(NewDatabase)
		parent := reg.CreateContainer()
		child := parent.Branch()

		// WHEN resolving in the child first
		fromChild := MustGet[*Database](child)
		fromParent := MustGet[*Database](parent)

		// THEN the parent built its own instance
		assert.NotSame(t, fromChild, fromParent)
	})

	t.Run("it should let the child override without touching the parent", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().MustAddFactory(NewDatabase).CreateContainer()
		fromParent := MustGet[*Database](parent)
		child := parent.Branch()

		// WHEN
		override := &Database{DSN: "override"}
		Add(child, override)

		// THEN
		assert.Same(t, override, MustGet[*Database](child))
		assert.Same(t, fromParent, MustGet[*Database](parent))
	})

	t.Run("it should inherit qualified instances from ancestors", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().CreateContainer()
		primary := &Database{DSN: "primary"}
		AddQualified(parent, "primary", primary)

		// WHEN
		child := parent.Branch()
		got, err := Get[*Database](child, WithQualifier("primary"))
		require.NoError(t, err)

		// THEN
		assert.Same(t, primary, got)
	})

	t.Run("it should expose its parent", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().CreateContainer()

		// WHEN
		child := parent.Branch()

		// THEN
		assert.Same(t, parent, child.Parent())
		assert.Nil(t, parent.Parent())
	})
}

func TestContainer_DefaultFactory(t *testing.T) {
	t.Run("it should cache by factory identity, not by type", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		makeConn := func() *Database { return &Database{DSN: "conn"} }

		// WHEN
		db1, err := Get[*Database](c, WithDefaultFactory(makeConn))
		require.NoError(t, err)
		db2, err := Get[*Database](c, WithDefaultFactory(makeConn))
		require.NoError(t, err)
		// a different requested type, same factory, hits the same slot
		asAny, err := Get[any](c, WithDefaultFactory(makeConn))
		require.NoError(t, err)

		// THEN
		assert.Same(t, db1, db2)
		assert.Same(t, db1, asAny)
	})

	t.Run("it should build fresh instances when factory caching is disabled", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		makeConn := func() *Database { return &Database{DSN: "conn"} }

		// WHEN
		db1, err := Get[*Database](c, WithDefaultFactory(makeConn), WithoutFactoryCache())
		require.NoError(t, err)
		db2, err := Get[*Database](c, WithDefaultFactory(makeConn), WithoutFactoryCache())
		require.NoError(t, err)

		// THEN
		assert.NotSame(t, db1, db2)
	})

	t.Run("it should take precedence over a cached instance of the same type", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		Add(c, &Database{DSN: "seeded"})
		makeConn := func() *Database { return &Database{DSN: "from-factory"} }

		// WHEN
		db, err := Get[*Database](c, WithDefaultFactory(makeConn))
		require.NoError(t, err)

		// THEN
		assert.Equal(t, "from-factory", db.DSN)
	})

	t.Run("it should reuse a factory result cached in an ancestor", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().CreateContainer()
		makeConn := func() *Database { return &Database{DSN: "conn"} }
		fromParent, err := Get[*Database](parent, WithDefaultFactory(makeConn))
		require.NoError(t, err)

		// WHEN
		child := parent.Branch()
		fromChild, err := Get[*Database](child, WithDefaultFactory(makeConn))
		require.NoError(t, err)

		// THEN
		assert.Same(t, fromParent, fromChild)
	})

	t.Run("it should resolve the factory's own parameters from the container", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().MustAddFactory(NewDatabase).CreateContainer()
		makeService := func(db *Database) *UserService { return &UserService{DB: db} }

		// WHEN
		svc, err := Get[*UserService](c, WithDefaultFactory(makeService))
		require.NoError(t, err)

		// THEN
		require.NotNil(t, svc.DB)
		assert.Same(t, MustGet[*Database](c), svc.DB)
	})
}

func TestContainer_Close(t *testing.T) {
	t.Run("it should close closeable cached instances", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().MustAddFactory(NewDatabase).CreateContainer()
		db := MustGet[*Database](c)

		// WHEN
		err := c.Close()

		// THEN
		require.NoError(t, err)
		assert.True(t, db.closed)
	})

	t.Run("it should report close failures", func(t *testing.T) {
		// GIVEN
		c := NewRegistry().CreateContainer()
		c.AddInstance(&failingCloser{})

		// WHEN
		err := c.Close()

		// THEN
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close instance")
	})

	t.Run("it should close an instance cached under several keys only once", func(t *testing.T) {
		// GIVEN a qualified resolution through a fallback factory, cached
		// under both the factory key and the qualified key
		c := NewRegistry().CreateContainer()
		conn := &countingConn{}
		_, err := Get[*countingConn](c,
			WithQualifier("primary"),
			WithDefaultFactory(func() *countingConn { return conn }),
		)
		require.NoError(t, err)

		// WHEN
		require.NoError(t, c.Close())

		// THEN
		assert.Equal(t, 1, conn.closes)
	})

	t.Run("it should not close instances owned by the parent", func(t *testing.T) {
		// GIVEN
		parent := NewRegistry().MustAddFactory(NewDatabase).CreateContainer()
		db := MustGet[*Database](parent)
		child := parent.Branch()
		MustGet[*Database](child)

		// WHEN
		err := child.Close()

		// THEN
		require.NoError(t, err)
		assert.False(t, db.closed)
	})
}

type countingConn struct {
	closes int
}

func (c *countingConn) Close() error {
	c.closes++
	return nil
}

type failingCloser struct{}

func (f *failingCloser) Close() error {
	return errors.New("resource is stuck")
}
