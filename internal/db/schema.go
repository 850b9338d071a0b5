package db

// NotesSchema creates the notes table. Timestamps are unix milliseconds.
// The (persona_id, date_modified) index serves the owner listing sort.
const NotesSchema = `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    persona_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    date_created INTEGER NOT NULL,
    date_modified INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_persona_modified ON notes(persona_id, date_modified DESC);
`
