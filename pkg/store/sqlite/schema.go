package sqlite

// Schema creates the relational tables and the FTS5 search_documents table.
// The offsets column is quoted because OFFSET is a keyword. A meeting counts
// as transcribed once it has a row in search_documents.
const Schema = `
CREATE TABLE IF NOT EXISTS providers (
    id     TEXT PRIMARY KEY,
    config TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS authorities (
    id               TEXT PRIMARY KEY,
    provider         TEXT NOT NULL REFERENCES providers(id),
    nice_name        TEXT NOT NULL DEFAULT '',
    meeting_count    INTEGER NOT NULL DEFAULT 0,
    transcript_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meetings (
    uid         TEXT PRIMARY KEY,
    authority   TEXT NOT NULL REFERENCES authorities(id),
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    datetime    TEXT NOT NULL DEFAULT '',
    unixtime    INTEGER NOT NULL DEFAULT 0,
    link        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_meetings_authority ON meetings(authority);
CREATE INDEX IF NOT EXISTS idx_meetings_datetime ON meetings(datetime);

CREATE TABLE IF NOT EXISTS transcripts (
    uid         TEXT NOT NULL REFERENCES meetings(uid),
    transcript  TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    start_time  TEXT NOT NULL,
    end_time    TEXT NOT NULL,
    PRIMARY KEY (uid, start_time, end_time)
);

CREATE TABLE IF NOT EXISTS agenda (
    uid         TEXT NOT NULL REFERENCES meetings(uid),
    agenda_id   TEXT NOT NULL,
    agenda_text TEXT NOT NULL DEFAULT '',
    agenda_time TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (uid, agenda_id)
);

CREATE TABLE IF NOT EXISTS offsets (
    uid                TEXT NOT NULL REFERENCES meetings(uid),
    "offset"           INTEGER NOT NULL,
    start_time         TEXT NOT NULL,
    start_time_seconds INTEGER NOT NULL,
    PRIMARY KEY (uid, "offset")
);

CREATE VIRTUAL TABLE IF NOT EXISTS search_documents USING fts5(
    uid UNINDEXED,
    corpus_text,
    tokenize = 'porter unicode61'
);
`
