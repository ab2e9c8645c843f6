package db

import "fmt"

// schemaTemplate defines the place table holding every knowledge record.
// Records of all classes share the table; (class, slug) is unique and the
// record key is "<class>:<slug>".
const schemaTemplate = `
    -- ==========================================================================
    -- PLACE TABLE (attractions, hotels, restaurants)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS place SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS class ON place TYPE string ASSERT $value IN ["attraction", "hotel", "restaurant"];
    DEFINE FIELD IF NOT EXISTS slug ON place TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON place TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS description ON place TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS city ON place TYPE string;
    DEFINE FIELD IF NOT EXISTS category ON place TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS price_band ON place TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS lat ON place TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS lon ON place TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS rating ON place TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS image_url ON place TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS embedding ON place TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS embedded_at ON place TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created ON place TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS place_class_slug ON place FIELDS class, slug UNIQUE;
    DEFINE INDEX IF NOT EXISTS place_class_city ON place FIELDS class, city;
    DEFINE INDEX IF NOT EXISTS place_class_category ON place FIELDS class, category;
    DEFINE INDEX IF NOT EXISTS place_embedding ON place FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`

// SchemaSQL returns the schema initialization SQL for the given embedding
// dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
